package backend

import (
	"time"

	"github.com/danielpatrickdp/vulnharness/internal/model"
)

// #region config
// Config tunes a client or server of the model service.
type Config struct {
	MaxMessageBytes int           // both directions
	CallTimeout     time.Duration // for calls whose signature carries no context
}

// DefaultConfig allows 512 MiB messages and five-minute calls.
func DefaultConfig() Config {
	return Config{
		MaxMessageBytes: 512 << 20,
		CallTimeout:     5 * time.Minute,
	}
}

// #endregion config

// #region messages
// Empty is the request or response of calls with no payload.
type Empty struct{}

type ForwardRequest struct {
	Input model.Input `json:"input"`
}

type ForwardResponse struct {
	Output model.Output `json:"output"`
}

type SetTrainingRequest struct {
	Training bool `json:"training"`
}

// StateBlob carries a checkpoint-encoded parameter state.
type StateBlob struct {
	Data []byte `json:"data"`
}

type LRMessage struct {
	LR float64 `json:"lr"`
}

// InfoResponse describes the hosted model.
type InfoResponse struct {
	Name          string `json:"name"`
	NumParameters int    `json:"num_parameters"`
	Training      bool   `json:"training"`
}

// #endregion messages
