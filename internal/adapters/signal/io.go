package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hiccup-im/media-signal/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, sess *core.Session, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.onDisconnect(sid, sess)
		c.Close()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleMessage(ctx, sid, sess, c, data)
		}
	}
}

// handleMessage dispatches one inbound frame. A panic in a handler is
// contained to this connection: it is logged and surfaced as a critical
// failure, never propagated to the process.
func (ctl *Controller) handleMessage(ctx context.Context, sid core.SessionID, sess *core.Session, c core.SignalConnection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(sid)).Interface("panic", r).Msg("handler panic")
			ctl.criticalFailure(c, "internal error")
		}
	}()

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "authorize":
		ctl.handleAuthorize(ctx, sid, sess, c, data)
	case "request_connection_info":
		ctl.handleConnectionInfo(ctx, sess, c)
	case "request_connect":
		ctl.handleConnect(ctx, sess, c, data)
	case "place_audio_producer":
		ctl.handlePlaceAudioProducer(ctx, sid, sess, c, data)
	case "place_video_producer":
		ctl.handlePlaceVideoProducer(sess, c)
	case "request_change_name":
		ctl.handleRename(sess, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
