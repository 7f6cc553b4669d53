package web

import (
	"errors"
	"net/http"

	"github.com/yldhj/daftmapler/internal/push"
)

type soundInfo struct {
	Name    string   `json:"name"`
	Reward  string   `json:"reward"`
	Aliases []string `json:"aliases"`
	File    string   `json:"file"`
	Volume  float64  `json:"volume"`
}

type ttsInfo struct {
	Reward string  `json:"reward"`
	Volume float64 `json:"volume"`
}

type catalog struct {
	TTS    ttsInfo     `json:"tts"`
	Sounds []soundInfo `json:"sounds"`
}

// handleSounds lists the catalog with the reward title that triggers each
// sound and the effective volumes.
func (s *Server) handleSounds(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Sounds()
	out := catalog{
		TTS: ttsInfo{
			Reward: cfg.Redeemable.TTS.Name,
			Volume: volumeOr(cfg.Redeemable.TTS.Volume, push.DefaultTTSVolume),
		},
		Sounds: make([]soundInfo, 0, len(cfg.Sounds)),
	}
	for _, snd := range cfg.Sounds {
		aliases := snd.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		out.Sounds = append(out.Sounds, soundInfo{
			Name:    snd.Name,
			Reward:  cfg.RewardName(snd),
			Aliases: aliases,
			File:    snd.File,
			Volume:  volumeOr(snd.Volume, push.DefaultSFXVolume),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSkip tells every player to skip the clip that is playing.
func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Hub.Broadcast(r.Context(), push.Skip{}); err != nil {
		if errors.Is(err, push.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "Push channel closed")
			return
		}
		writeError(w, http.StatusInternalServerError, "Skip failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func volumeOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
