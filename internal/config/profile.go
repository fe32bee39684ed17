package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const DefaultContext = "default"

// Profile describes the template layout a deployment expects. It is read
// from a TOML file; every field falls back to DefaultProfile when absent.
type Profile struct {
	OutputSheets []string                  `toml:"output_sheets"`
	GroupOrders  bool                      `toml:"group_orders"`
	Matching     MatchingProfile           `toml:"matching"`
	Contexts     map[string]ContextProfile `toml:"contexts"`
}

type MatchingProfile struct {
	TopK          int     `toml:"top_k"`
	MinSimilarity float64 `toml:"min_similarity"`
}

type ContextProfile struct {
	Required []string `toml:"required"`
}

func DefaultProfile() Profile {
	return Profile{
		OutputSheets: []string{"갑지", "을지"},
		Matching:     MatchingProfile{TopK: 5, MinSimilarity: 0.3},
		Contexts: map[string]ContextProfile{
			DefaultContext: {Required: []string{"vendorName", "vendorEmail", "projectName"}},
		},
	}
}

func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if strings.TrimSpace(path) == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return profile, nil
		}
		return Profile{}, err
	}
	return ParseProfile(data)
}

func ParseProfile(data []byte) (Profile, error) {
	profile := DefaultProfile()
	var parsed Profile
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}

	if len(parsed.OutputSheets) > 0 {
		profile.OutputSheets = parsed.OutputSheets
	}
	profile.GroupOrders = parsed.GroupOrders
	if parsed.Matching.TopK > 0 {
		profile.Matching.TopK = parsed.Matching.TopK
	}
	if parsed.Matching.MinSimilarity > 0 {
		profile.Matching.MinSimilarity = parsed.Matching.MinSimilarity
	}
	for name, ctx := range parsed.Contexts {
		profile.Contexts[name] = ctx
	}
	return profile, nil
}

// RequiredFields returns the required field keys for a calling context,
// falling back to the default context.
func (p Profile) RequiredFields(context string) []string {
	if ctx, ok := p.Contexts[context]; ok && ctx.Required != nil {
		return ctx.Required
	}
	return p.Contexts[DefaultContext].Required
}
