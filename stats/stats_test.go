// Copyright 2017 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stats

import (
	"bufio"
	"bytes"
	"testing"
)

func TestCounter(t *testing.T) {
	var c Counter
	var b bytes.Buffer
	w := bufio.NewWriter(&b)

	if avg := c.Avg(); avg != 0 {
		t.Errorf("Avg() on empty counter = %v, want 0", avg)
	}

	c.Record(100)
	c.Record(100)
	c.Record(100)
	if c.Count != 3 {
		t.Errorf("Count = %d, want 3", c.Count)
	}
	if c.Sum != 300 {
		t.Errorf("Sum = %v, want 300", c.Sum)
	}
	if avg := c.Avg(); avg != 100 {
		t.Errorf("Avg() = %v, want 100", avg)
	}

	c.Print(w, "test")
	w.Flush()
	if b.Len() == 0 {
		t.Error("Print() produced no output")
	}
}

func TestCounterTransfer(t *testing.T) {
	var dst, src Counter
	dst.Record(10)
	src.Record(20)
	src.Record(30)
	dst.Transfer(&src)
	if dst.Count != 3 {
		t.Errorf("dst.Count after Transfer = %d, want 3", dst.Count)
	}
	if src.Count != 0 {
		t.Errorf("src.Count after Transfer = %d, want 0 (drained)", src.Count)
	}
	if dst.Sum != 60 {
		t.Errorf("dst.Sum after Transfer = %v, want 60", dst.Sum)
	}
}

func TestCounterReset(t *testing.T) {
	var c Counter
	c.Record(5)
	c.Reset()
	if c.Count != 0 || c.Sum != 0 {
		t.Errorf("Reset() left non zero state: %+v", c)
	}
}
