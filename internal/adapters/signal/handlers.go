package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/hiccup-im/media-signal/internal/core"
	"github.com/hiccup-im/media-signal/internal/domain"
)

// criticalFailure is terminal: the client is told why and the connection is
// closed by the server.
func (ctl *Controller) criticalFailure(c core.SignalConnection, reason string) {
	ctl.sendJSON(c, map[string]any{"type": "critical_failure", "reason": reason})
	c.Close()
}

// operationError is non-terminal; the connection stays open.
func (ctl *Controller) operationError(c core.SignalConnection, operation, reason string) {
	ctl.sendJSON(c, map[string]any{
		"type":      "operation_error",
		"operation": operation,
		"reason":    reason,
	})
}

func (ctl *Controller) handleAuthorize(ctx context.Context, sid core.SessionID, sess *core.Session, c core.SignalConnection, data []byte) {
	var p struct {
		Type  string `json:"type"`
		Token string `json:"token" validate:"required"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad authorize payload")
		ctl.criticalFailure(c, "authorize_failed")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.criticalFailure(c, "authorize_failed")
		return
	}

	claims, err := ctl.Auth.VerifyToken(ctx, p.Token)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("token rejected")
		ctl.criticalFailure(c, "authorize_failed")
		return
	}
	if err := sess.Authenticate(claims); err != nil {
		ctl.criticalFailure(c, "authorize_failed")
		return
	}

	ctl.Groups.Join(sid, string(claims.ServerID))
	ctl.Groups.Join(sid, string(claims.RoomID))
	ctl.Notifier.Wire(sess)

	ctl.sendJSON(c, map[string]any{"type": "authorized"})
}

type connectionInfo struct {
	Type                  string                    `json:"type"`
	ID                    string                    `json:"id"`
	RouterRtpCapabilities []core.RTPCodecCapability `json:"routerRtpCapabilities"`
	IceParameters         core.ICEParameters        `json:"iceParameters"`
	IceCandidates         []core.ICECandidate       `json:"iceCandidates"`
	DtlsParameters        core.DTLSParameters       `json:"dtlsParameters"`
}

func (ctl *Controller) handleConnectionInfo(ctx context.Context, sess *core.Session, c core.SignalConnection) {
	if !sess.Authenticated() {
		ctl.criticalFailure(c, "unauthorized")
		return
	}

	t, err := ctl.Engine.CreateTransport(ctx, string(sess.Claims().RoomID))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("create transport")
		ctl.operationError(c, "request_connection_info", "media engine unavailable")
		return
	}
	sess.AttachTransport(t)

	ctl.sendJSON(c, connectionInfo{
		Type:                  "connection_info",
		ID:                    t.ID(),
		RouterRtpCapabilities: ctl.Engine.CodecCapabilities(),
		IceParameters:         t.ICEParameters(),
		IceCandidates:         t.ICECandidates(),
		DtlsParameters:        t.DTLSParameters(),
	})
}

func (ctl *Controller) handleConnect(ctx context.Context, sess *core.Session, c core.SignalConnection, data []byte) {
	if !sess.Authenticated() {
		ctl.criticalFailure(c, "unauthorized")
		return
	}
	var p struct {
		Type           string              `json:"type"`
		DtlsParameters core.DTLSParameters `json:"dtlsParameters"`
		IceParameters  core.ICEParameters  `json:"iceParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad connect payload")
		ctl.sendJSON(c, map[string]any{"type": "connected", "ok": false})
		return
	}

	t := sess.Transport()
	if t == nil || t.Closed() {
		ctl.sendJSON(c, map[string]any{"type": "connected", "ok": false})
		return
	}
	err := t.Connect(ctx, core.ConnectParams{ICE: p.IceParameters, DTLS: p.DtlsParameters})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("transport connect")
	}
	ctl.sendJSON(c, map[string]any{"type": "connected", "ok": err == nil})
}

func (ctl *Controller) renewTransportRequired(c core.SignalConnection, operation string) {
	ctl.sendJSON(c, map[string]any{
		"type":      "renew_transport_required",
		"operation": operation,
	})
}

func (ctl *Controller) handlePlaceAudioProducer(ctx context.Context, sid core.SessionID, sess *core.Session, c core.SignalConnection, data []byte) {
	const op = "place_audio_producer"

	if !sess.Authenticated() {
		ctl.criticalFailure(c, "unauthorized")
		return
	}
	if !sess.TransportUsable() {
		ctl.renewTransportRequired(c, op)
		return
	}

	var p struct {
		Type          string             `json:"type"`
		Kind          core.MediaKind     `json:"kind" validate:"required"`
		RtpParameters core.RTPParameters `json:"rtpParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad producer payload")
		ctl.operationError(c, op, "invalid payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.operationError(c, op, "invalid payload")
		return
	}
	if p.Kind != core.KindAudio {
		ctl.operationError(c, op, "invalid producer type")
		return
	}

	t := sess.Transport()
	if t == nil || t.Closed() {
		ctl.renewTransportRequired(c, op)
		return
	}
	prod, err := t.Produce(ctx, core.KindAudio, p.RtpParameters)
	if err != nil {
		if !sess.TransportUsable() {
			ctl.renewTransportRequired(c, op)
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("produce failed")
		ctl.operationError(c, op, "produce failed")
		return
	}
	// The transport can close while Produce is in flight: re-validate before
	// installing, or the session would hold a producer on a dead transport.
	if !sess.TransportUsable() {
		prod.Close()
		ctl.renewTransportRequired(c, op)
		return
	}

	oldID := sess.SetAudioProducer(prod)
	ctl.Groups.Broadcast(string(sess.Claims().RoomID), sid, producerUpdate{
		Type:          "user_audio_producer_updated",
		UserID:        sess.UserID(),
		OldProducerID: oldID,
		NewProducerID: prod.ID(),
	})

	ctl.sendJSON(c, map[string]any{
		"type":       "audio_producer_placed",
		"producerId": prod.ID(),
	})
}

type producerUpdate struct {
	Type          string        `json:"type"`
	UserID        domain.UserID `json:"userId"`
	OldProducerID string        `json:"oldProducerId,omitempty"`
	NewProducerID string        `json:"newProducerId"`
}

// Video producers are reserved for future support.
func (ctl *Controller) handlePlaceVideoProducer(sess *core.Session, c core.SignalConnection) {
	if !sess.Authenticated() {
		ctl.criticalFailure(c, "unauthorized")
		return
	}
	ctl.operationError(c, "place_video_producer", "not implemented")
}

func (ctl *Controller) handleRename(sess *core.Session, c core.SignalConnection, data []byte) {
	if !sess.Authenticated() {
		ctl.criticalFailure(c, "unauthorized")
		return
	}
	var p struct {
		Type string `json:"type"`
		Name string `json:"name" validate:"required,max=36"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.operationError(c, "request_change_name", "invalid name")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.operationError(c, "request_change_name", "invalid name")
		return
	}
	if err := domain.CheckDisplayName(p.Name); err != nil {
		ctl.operationError(c, "request_change_name", err.Error())
		return
	}
	sess.Rename(p.Name)
}
