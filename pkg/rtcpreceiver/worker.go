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

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/frostbyte73/core"
	"github.com/livekit/protocol/logger"
	"go.uber.org/atomic"
)

// TimeoutObserver is notified when the remote side stops reporting or stops
// acknowledging RTP progress.
type TimeoutObserver interface {
	OnRtcpRrTimeout()
	OnRtcpRrSequenceNumberTimeout()
}

type TimeoutWorkerParams struct {
	Receiver *Receiver
	// RtcpInterval is the reporting interval used for both RR timeouts.
	RtcpInterval time.Duration
	// PollInterval defaults to one second.
	PollInterval time.Duration
	Observer     TimeoutObserver
	Clock        clock.Clock
	Logger       logger.Logger
}

// TimeoutWorker owns the timer thread role around a Receiver: it
// periodically ages TMMBR entries, collects departed remote parties and
// fires the RR timeouts.
type TimeoutWorker struct {
	params TimeoutWorkerParams

	started atomic.Bool
	done    core.Fuse
}

func NewTimeoutWorker(params TimeoutWorkerParams) *TimeoutWorker {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.PollInterval == 0 {
		params.PollInterval = time.Second
	}
	return &TimeoutWorker{params: params, done: core.NewFuse()}
}

func (w *TimeoutWorker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.worker()
}

func (w *TimeoutWorker) Stop() {
	w.done.Break()
}

func (w *TimeoutWorker) worker() {
	ticker := w.params.Clock.Ticker(w.params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done.Watch():
			return
		case <-ticker.C:
			w.process()
		}
	}
}

func (w *TimeoutWorker) process() {
	receiver := w.params.Receiver

	if receiver.UpdateReceiveInformationTimers() {
		receiver.UpdateTmmbr()
	}

	if w.params.Observer == nil {
		return
	}
	if receiver.RtcpRrTimeout(w.params.RtcpInterval) {
		w.params.Logger.Infow("timeout: no RTCP RR received")
		w.params.Observer.OnRtcpRrTimeout()
	}
	if receiver.RtcpRrSequenceNumberTimeout(w.params.RtcpInterval) {
		w.params.Logger.Infow("timeout: extended highest sequence number not increased")
		w.params.Observer.OnRtcpRrSequenceNumberTimeout()
	}
}
