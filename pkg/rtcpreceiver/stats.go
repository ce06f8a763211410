// Copyright 2024 LiveKit, Inc.
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

package rtcpreceiver

import "github.com/prometheus/client_golang/prometheus"

var (
	promCompoundPackets = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "rtcp",
		Name:      "compound_packets",
		Help:      "Compound RTCP datagrams processed",
	})

	promBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "rtcp",
		Name:      "blocks",
		Help:      "RTCP blocks seen, by packet type",
	}, []string{"type"})

	promBlocksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "rtcp",
		Name:      "blocks_skipped",
		Help:      "RTCP blocks skipped as malformed or unsupported",
	})
)

func init() {
	prometheus.MustRegister(promCompoundPackets)
	prometheus.MustRegister(promBlocks)
	prometheus.MustRegister(promBlocksSkipped)
}
