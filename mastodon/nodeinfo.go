package mastodon

import (
	"context"
	"encoding/json"
	"strings"
)

// nodeInfoRel marks the link in /.well-known/nodeinfo that points at the
// nodeinfo 2.0 document.
const nodeInfoRel = "http://nodeinfo.diaspora.software/ns/schema/2.0"

// incompatibleSoftware lists server families whose APIs lack the status
// endpoints this client depends on. Matching here is fail-closed; an
// unreachable or unparseable nodeinfo document fails open.
var incompatibleSoftware = map[string]bool{
	"akkoma":                   true,
	"firefish":                 true,
	"friendica":                true,
	"gotosocial":               true,
	"mammuthus (experimental)": true,
	"mitra":                    true,
	"pixelfed":                 true,
	"peertube":                 true,
}

// Incompatible reports whether the named server software is on the
// deny-list. The empty name (unknown software) is assumed compatible.
func Incompatible(softwareName string) bool {
	return incompatibleSoftware[softwareName]
}

type softwareInfo struct {
	name    string
	version string
}

// Classify determines the server software running on host by following the
// well-known nodeinfo link. Any failure along the way is non-fatal and
// yields empty strings, which callers must treat as "assume compatible".
// Results are cached for the rest of the run.
func (c *Client) Classify(ctx context.Context, host string) (softwareName, softwareVersion string) {
	if info, ok := c.software[host]; ok {
		return info.name, info.version
	}
	name, version := c.classify(ctx, host)
	c.software[host] = softwareInfo{name: name, version: version}
	return name, version
}

func (c *Client) classify(ctx context.Context, host string) (string, string) {
	data, err := c.get(ctx, apiURL(host, ".well-known/nodeinfo", nil), "")
	if err != nil {
		c.logger.Info("Error on querying node info", "host", host, "error", err)
		return "", ""
	}

	var index struct {
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(data, &index); err != nil {
		c.logger.Info("Malformed node info index", "host", host, "error", err)
		return "", ""
	}

	var nodeInfoURL string
	for _, link := range index.Links {
		if link.Rel == nodeInfoRel {
			nodeInfoURL = link.Href
			break
		}
	}
	if nodeInfoURL == "" {
		return "", ""
	}

	data, err = c.get(ctx, nodeInfoURL, "")
	if err != nil {
		c.logger.Info("Error on querying node info document", "url", nodeInfoURL, "error", err)
		return "", ""
	}

	var doc struct {
		Software struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"software"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.Info("Malformed node info document", "url", nodeInfoURL, "error", err)
		return "", ""
	}

	return strings.ToLower(doc.Software.Name), doc.Software.Version
}
