package reader

import (
	"errors"
	"io"

	"github.com/justapithecus/setscout/ipc"
	"github.com/justapithecus/setscout/types"
)

// Replay decodes a recorded interceptor stream without dispatching it.
// A fatal frame error ends the replay with Truncated set; undecodable
// frames are counted and skipped. With verbose, every envelope header is
// listed.
func Replay(r io.Reader, verbose bool) (*ReplayResponse, error) {
	dec := ipc.NewFrameDecoder(r)
	resp := &ReplayResponse{ByType: make(map[string]int)}
	sessions := make(map[string]struct{})

	for {
		payload, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				resp.Truncated = true
				resp.Error = err.Error()
				break
			}
			return nil, err
		}
		resp.Frames++

		env, err := ipc.DecodeEventEnvelope(payload)
		if err != nil {
			resp.DecodeErrors++
			continue
		}

		sessions[env.SessionID] = struct{}{}
		resp.ByType[string(env.Type)]++
		if env.Type == types.EventTypeNavigation {
			resp.Navigations++
		}
		if verbose {
			resp.Events = append(resp.Events, ReplayEvent{
				Seq:          env.Seq,
				SessionID:    env.SessionID,
				Type:         string(env.Type),
				Ts:           env.Ts,
				PayloadBytes: len(env.Payload),
			})
		}
	}

	resp.PageSessions = len(sessions)
	return resp, nil
}
