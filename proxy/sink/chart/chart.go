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

// Package chart renders a bar chart of the top domains by request count,
// grounded on logging_utils.generate_chart: same top-5-by-requests
// selection, same "skip quietly if the optional plotting dependency
// isn't usable" fallback (matplotlib there, gonum.org/v1/gonum/plot
// here). Never called from the core; only ever invoked from a sink's
// FlushSummary, strictly an external collaborator per spec.md §1.
package chart // import "goproxy/proxy/sink/chart"

import (
	"path/filepath"
	"sort"

	"goproxy/proxy/domainstats"

	"fortio.org/log"

	"gonum.org/v1/gonum/plot"
	"gonum.org/v1/gonum/plot/plotter"
	"gonum.org/v1/gonum/plot/vg"
)

// TopN is the number of domains rendered, matching the original's top-5.
const TopN = 5

// Render writes a bar chart of the top TopN domains by request count to
// dir/top_domains.png. Any plotting error is logged and swallowed: a
// chart failure must never fail the proxy or the rest of FlushSummary.
func Render(dir string, snapshot map[string]domainstats.Summary) {
	type row struct {
		host string
		domainstats.Summary
	}
	rows := make([]row, 0, len(snapshot))
	for host, s := range snapshot {
		rows = append(rows, row{host, s})
	}
	if len(rows) == 0 {
		log.LogVf("chart: no domain data available, skipping")
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Requests > rows[j].Requests })
	if len(rows) > TopN {
		rows = rows[:TopN]
	}

	p := plot.New()
	p.Title.Text = "Top 5 Domains by Requests"
	p.Y.Label.Text = "Request Count"

	values := make(plotter.Values, len(rows))
	labels := make([]string, len(rows))
	for i, r := range rows {
		values[i] = float64(r.Requests)
		labels[i] = r.host
	}

	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		log.Errf("chart: building bar chart: %v", err)
		return
	}
	p.Add(bars)
	p.NominalX(labels...)

	path := filepath.Join(dir, "top_domains.png")
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		log.Errf("chart: saving %s: %v", path, err)
		return
	}
	log.Infof("chart: saved to %s", path)
}
