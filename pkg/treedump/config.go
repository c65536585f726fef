// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package treedump

import (
	"bytes"
	"encoding/json"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Config is the pipeline's configuration surface.
type Config struct {
	// DecodingThreads is N, the number of decoder goroutines.
	DecodingThreads int `json:"decoding-threads"`
	// BlockReaderChannelBufferSize is B, the block channel capacity.
	BlockReaderChannelBufferSize int `json:"block-reader-channel-buffer-size"`
	// TreeDecoderChannelBufferSize is T, the tree channel capacity.
	TreeDecoderChannelBufferSize int `json:"tree-decoder-channel-buffer-size"`
}

// DefaultConfig returns the pipeline's defaults: N=1, B=10, T=10.
func DefaultConfig() Config {
	return Config{
		DecodingThreads:              1,
		BlockReaderChannelBufferSize: 10,
		TreeDecoderChannelBufferSize: 10,
	}
}

// Keys holds the package-level configuration, seeded with defaults and
// overridden by Init, mirroring pkg/nats's Keys/Init shape.
var Keys = DefaultConfig()

// ConfigSchema documents the JSON shape Init accepts.
const ConfigSchema = `{
    "type": "object",
    "description": "Configuration for the message-tree decode pipeline.",
    "properties": {
        "decoding-threads": {
            "description": "Number of decoder goroutines (N).",
            "type": "integer",
            "minimum": 1
        },
        "block-reader-channel-buffer-size": {
            "description": "Capacity of the block channel (B).",
            "type": "integer",
            "minimum": 1
        },
        "tree-decoder-channel-buffer-size": {
            "description": "Capacity of the tree channel (T).",
            "type": "integer",
            "minimum": 1
        }
    }
}`

// Init overrides Keys from rawConfig, preserving defaults for any field
// the caller omits. A nil rawConfig is a no-op.
func Init(rawConfig json.RawMessage) error {
	if rawConfig == nil {
		return nil
	}

	cfg := Keys
	dec := json.NewDecoder(bytes.NewReader(rawConfig))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		cclog.Errorf("treedump: error initializing config: %s", err.Error())
		return err
	}
	Keys = cfg
	return nil
}
