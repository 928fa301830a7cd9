package reader

import (
	"bytes"
	"testing"

	"github.com/justapithecus/setscout/ipc"
	"github.com/justapithecus/setscout/types"
)

func writeEnvelope(t *testing.T, enc *ipc.FrameEncoder, session string, seq int64, typ types.EventType) {
	t.Helper()
	payload, err := ipc.EncodePayload(map[string]any{"n": seq})
	if err != nil {
		t.Fatal(err)
	}
	err = enc.WriteEnvelope(&types.EventEnvelope{
		ContractVersion: types.ContractVersion,
		EventID:         "e",
		SessionID:       session,
		Seq:             seq,
		Type:            typ,
		Ts:              "2026-03-14T21:00:00Z",
		Payload:         payload,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReplay(t *testing.T) {
	var buf bytes.Buffer
	enc := ipc.NewFrameEncoder(&buf)
	writeEnvelope(t, enc, "p1", 1, types.EventTypeClientID)
	writeEnvelope(t, enc, "p1", 2, types.EventTypeItem)
	writeEnvelope(t, enc, "p1", 3, types.EventTypeNavigation)
	writeEnvelope(t, enc, "p2", 1, types.EventTypeItem)
	if err := enc.WriteFrame([]byte{0xc1}); err != nil {
		t.Fatal(err)
	}

	resp, err := Replay(&buf, true)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if resp.Frames != 5 || resp.DecodeErrors != 1 {
		t.Errorf("frames=%d decode_errors=%d", resp.Frames, resp.DecodeErrors)
	}
	if resp.PageSessions != 2 || resp.Navigations != 1 {
		t.Errorf("page_sessions=%d navigations=%d", resp.PageSessions, resp.Navigations)
	}
	if resp.ByType["item"] != 2 {
		t.Errorf("by type = %v", resp.ByType)
	}
	if len(resp.Events) != 4 || resp.Events[2].Type != "navigation" {
		t.Errorf("events = %+v", resp.Events)
	}
	if resp.Truncated {
		t.Error("clean stream marked truncated")
	}
}

func TestReplay_Truncated(t *testing.T) {
	var buf bytes.Buffer
	enc := ipc.NewFrameEncoder(&buf)
	writeEnvelope(t, enc, "p1", 1, types.EventTypeItem)
	buf.Write([]byte{0, 0, 0, 9, 1, 2})

	resp, err := Replay(&buf, false)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !resp.Truncated || resp.Error == "" {
		t.Errorf("partial frame not reported: %+v", resp)
	}
	if resp.Frames != 1 || resp.Events != nil {
		t.Errorf("frames=%d events=%v", resp.Frames, resp.Events)
	}
}
