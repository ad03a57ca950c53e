package oracle

import (
	"net/http"
	"strings"
	"time"
)

// EndpointProbe treats any 2xx answer from a health endpoint as a live
// sequencer. Network errors and other statuses read as down.
type EndpointProbe struct {
	client   HTTPDoer
	endpoint string
}

func NewEndpointProbe(client HTTPDoer, endpoint string) *EndpointProbe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &EndpointProbe{client: client, endpoint: strings.TrimSpace(endpoint)}
}

func (p *EndpointProbe) Ready() bool {
	if p == nil || p.endpoint == "" {
		return false
	}
	req, err := http.NewRequest(http.MethodGet, p.endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
