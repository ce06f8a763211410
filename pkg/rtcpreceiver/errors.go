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

import "errors"

var (
	ErrEmptyPacket         = errors.New("empty RTCP packet")
	ErrInvalidPacket       = errors.New("could not parse first RTCP block")
	ErrCnameNotFound       = errors.New("no CNAME received for SSRC")
	ErrReportBlockNotFound = errors.New("no report block received from SSRC")
)
