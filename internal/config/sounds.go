package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Sound is one entry of the sound catalog.
type Sound struct {
	// Name is the catalog name. The reward title that triggers the sound is
	// the SFX prefix followed by Name.
	Name string `yaml:"name"`

	// Aliases are informational alternative names listed by /api/sounds.
	Aliases []string `yaml:"aliases"`

	// File is the path of the sound relative to the sound directory.
	File string `yaml:"file"`

	// Volume overrides the default effect volume when set.
	Volume *float64 `yaml:"volume"`
}

// TTSRedeemable configures the text-to-speech reward.
type TTSRedeemable struct {
	// Name is the exact reward title that triggers speech.
	Name   string   `yaml:"name"`
	Volume *float64 `yaml:"volume"`
}

// SFXRedeemable configures the sound effect rewards.
type SFXRedeemable struct {
	Prefix string `yaml:"prefix"`
}

// Redeemable groups the reward configuration.
type Redeemable struct {
	TTS TTSRedeemable `yaml:"tts"`
	SFX SFXRedeemable `yaml:"sfx"`
}

// SoundConfig is the decoded sound configuration file. A loaded value is
// never mutated; reloads produce a new one.
type SoundConfig struct {
	Sounds     []Sound    `yaml:"sounds"`
	Redeemable Redeemable `yaml:"redeemable"`
}

// RewardName returns the reward title that triggers s.
func (c *SoundConfig) RewardName(s Sound) string {
	return c.Redeemable.SFX.Prefix + s.Name
}

// LoadSounds reads and validates the sound configuration at path.
func LoadSounds(path string) (*SoundConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read sound config %q: %w", path, err)
	}
	cfg, err := ParseSounds(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse sound config %q: %w", path, err)
	}
	return cfg, nil
}

// ParseSounds decodes a sound configuration strictly and validates it.
// The file is JSON; it is decoded as YAML, of which JSON is a subset.
func ParseSounds(data []byte) (*SoundConfig, error) {
	return DecodeSounds(bytes.NewReader(data))
}

// DecodeSounds decodes a sound configuration from r. Unknown fields are
// rejected.
func DecodeSounds(r io.Reader) (*SoundConfig, error) {
	cfg := &SoundConfig{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: sound config is empty", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: decode sound config: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.warnDuplicates()
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *SoundConfig) Validate() error {
	var errs []error

	if c.Redeemable.TTS.Name == "" {
		errs = append(errs, fmt.Errorf("%w: redeemable.tts.name is required", ErrInvalid))
	}
	if v := c.Redeemable.TTS.Volume; v != nil && *v < 0 {
		errs = append(errs, fmt.Errorf("%w: redeemable.tts.volume must not be negative", ErrInvalid))
	}
	for i, s := range c.Sounds {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%w: sounds[%d].name is required", ErrInvalid, i))
		}
		if s.File == "" {
			errs = append(errs, fmt.Errorf("%w: sounds[%d] (%q): file is required", ErrInvalid, i, s.Name))
		}
		if s.Volume != nil && *s.Volume < 0 {
			errs = append(errs, fmt.Errorf("%w: sounds[%d] (%q): volume must not be negative", ErrInvalid, i, s.Name))
		}
	}
	return errors.Join(errs...)
}

// Duplicates returns every reward name that more than one sound answers to,
// in catalog order.
func (c *SoundConfig) Duplicates() []string {
	seen := make(map[string]int, len(c.Sounds))
	var dups []string
	for _, s := range c.Sounds {
		name := c.RewardName(s)
		seen[name]++
		if seen[name] == 2 {
			dups = append(dups, name)
		}
	}
	return dups
}

// warnDuplicates logs reward names that trigger several sounds. All of them
// play when the reward is redeemed.
func (c *SoundConfig) warnDuplicates() {
	for _, name := range c.Duplicates() {
		slog.Warn("config: several sounds share a reward name; all of them will play", "reward", name)
	}
}
