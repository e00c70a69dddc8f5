// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package api

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"leselix/internal/lixerr"
	"leselix/internal/readability"
	"leselix/internal/stream"
	"leselix/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway terminates origins; the service itself accepts any.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTyping upgrades the connection and runs one typing session per
// socket: each inbound message is a full snapshot of the editor text, each
// outbound message an analysis record (possibly partial).
func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	log := s.log.With().Str("client_id", clientID).Logger()

	telemetry.ActiveTypingSessions.Inc()
	defer telemetry.ActiveTypingSessions.Dec()

	// The session's deferred detail pass emits from its own goroutine, so
	// writes must be serialized.
	var writeMu sync.Mutex
	emit := func(rec *readability.Record) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(rec)
	}

	sess := stream.NewSession(s.svc, s.cache, s.sampler.Load, emit, log)
	log.Info().Msg("typing session opened")

	for {
		var msg stream.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("typing session closed unexpectedly")
			} else {
				log.Info().Msg("typing session closed")
			}
			return
		}

		if err := sess.Handle(r.Context(), msg); err != nil {
			writeMu.Lock()
			werr := conn.WriteJSON(map[string]string{
				"error": err.Error(),
				"kind":  lixerr.Kind(err),
			})
			writeMu.Unlock()
			if werr != nil {
				return
			}
		}
	}
}
