// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

const (
	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPing      = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// StreamRequest is a message sent by a stream client.
type StreamRequest struct {
	// Action is "accept" or "reject".
	Action string `json:"action"`
	ID     string `json:"id"`
}

// StreamReply answers a StreamRequest.
type StreamReply struct {
	Action string `json:"action"`
	ID     string `json:"id"`
	Seq    uint64 `json:"seq,omitempty"`
	Error  string `json:"error,omitempty"`
}

// snapshot is the first message of every stream.
type snapshot struct {
	Type    string       `json:"type"`
	Pending []CodeAction `json:"pending"`
}

// ServeStream upgrades the request to a websocket and streams code action
// events until the client disconnects or ctx is done.
//
// Description:
//
//	The first message is a snapshot of the pending actions (optionally
//	restricted by the "file" query parameter). Events follow as they
//	happen. Clients answer actions with StreamRequest messages and
//	receive a StreamReply for each.
func (b *Bridge) ServeStream(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	file := r.URL.Query().Get("file")
	events, cancel := b.Subscribe(streamBuffer)
	defer cancel()
	b.logger.Info("stream client connected", slog.String("remote", r.RemoteAddr))

	if err := b.send(ws, snapshot{Type: "snapshot", Pending: b.Pending(file)}); err != nil {
		return
	}

	requests := make(chan StreamRequest)
	readDone := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(readDone)
		for {
			var req StreamRequest
			if err := ws.ReadJSON(&req); err != nil {
				b.logger.Info("stream client disconnected", slog.String("error", err.Error()))
				return
			}
			select {
			case requests <- req:
			case <-stop:
				return
			}
		}
	}()

	ping := time.NewTicker(streamPing)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(streamWriteWait))
			ws.Close()
			<-readDone
			return

		case <-readDone:
			return

		case req := <-requests:
			if err := b.send(ws, b.answer(ctx, req)); err != nil {
				return
			}

		case e, ok := <-events:
			if !ok {
				return
			}
			if file != "" && e.Action.File != file {
				continue
			}
			if err := b.send(ws, e); err != nil {
				return
			}

		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) answer(ctx context.Context, req StreamRequest) StreamReply {
	reply := StreamReply{Action: req.Action, ID: req.ID}
	var (
		rec fix.Record
		err error
	)
	switch req.Action {
	case "accept":
		rec, err = b.Accept(ctx, req.ID)
	case "reject":
		rec, err = b.Reject(ctx, req.ID)
	default:
		reply.Error = "unknown action"
		return reply
	}
	reply.Seq = rec.Seq
	if err != nil {
		reply.Error = err.Error()
	}
	return reply
}

func (b *Bridge) send(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
	err := ws.WriteJSON(v)
	if err != nil {
		b.logger.Warn("failed to write websocket JSON", slog.String("error", err.Error()))
	}
	return err
}
