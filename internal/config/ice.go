package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

type iceServerJSON struct {
	URLs       stringOrSlice `json:"urls"`
	Username   string        `json:"username,omitempty"`
	Credential string        `json:"credential,omitempty"`
}

// stringOrSlice accepts "urls": "stun:..." as well as "urls": ["stun:..."].
type stringOrSlice []string

func (s *stringOrSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ICEServers returns the ICE server list browsers should use for RTCPeerConnection.
func (c RTCConfig) ICEServers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(c.ICEServersJSON); raw != "" {
		return ParseICEServersJSON(raw)
	}
	var urls []string
	for _, u := range c.StunURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return []webrtc.ICEServer{}, nil
	}
	server := webrtc.ICEServer{URLs: urls}
	if err := validateICEServer(server); err != nil {
		return nil, fmt.Errorf("stunUrls: %w", err)
	}
	return []webrtc.ICEServer{server}, nil
}

// ParseICEServersJSON parses a JSON array of RTCIceServer objects.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, u := range server.URLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		pcServer := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			pcServer.Credential = server.Credential
		}
		if err := validateICEServer(pcServer); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, pcServer)
	}
	return out, nil
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return fmt.Errorf("urls must not be empty")
	}
	for _, u := range server.URLs {
		lower := strings.ToLower(u)
		switch {
		case strings.HasPrefix(lower, "stun:"), strings.HasPrefix(lower, "stuns:"):
		case strings.HasPrefix(lower, "turn:"), strings.HasPrefix(lower, "turns:"):
			if server.Username == "" || server.Credential == nil {
				return fmt.Errorf("turn url %q requires username and credential", u)
			}
		default:
			return fmt.Errorf("unsupported ice url scheme %q", u)
		}
	}
	return nil
}
