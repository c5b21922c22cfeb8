package tables

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML overrides document and compiles it over the
// defaults. Every non-empty list in the file replaces the matching default
// list; omitted lists keep their built-in values.
func LoadFile(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables file: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile for an in-memory document.
func Parse(data []byte) (*Tables, error) {
	var override Spec
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse tables yaml: %w", err)
	}
	return New(merge(DefaultSpec(), override))
}

func merge(base, o Spec) Spec {
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&base.BotUserAgents, o.BotUserAgents)
	pick(&base.SocialApps, o.SocialApps)
	pick(&base.InfraVerifiers, o.InfraVerifiers)
	pick(&base.EmulatorGPUs, o.EmulatorGPUs)
	pick(&base.RealGPUVendors, o.RealGPUVendors)
	pick(&base.DatacenterIPv4, o.DatacenterIPv4)
	pick(&base.DatacenterIPv6, o.DatacenterIPv6)
	pick(&base.CloudflareIPv4, o.CloudflareIPv4)
	pick(&base.CloudflareIPv6, o.CloudflareIPv6)
	pick(&base.TraceHeaders, o.TraceHeaders)
	if len(o.AdPlatforms) > 0 {
		base.AdPlatforms = o.AdPlatforms
	}
	return base
}
