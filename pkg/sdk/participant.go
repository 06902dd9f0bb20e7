package sdk

import (
	"encoding/json"
	"net/http"
	"time"
)

const participantsEndpoint = "/participants"

type Participant struct {
	ID       string    `json:"id"`
	Alive    bool      `json:"alive"`
	LastSeen time.Time `json:"last_seen"`
}

type ParticipantPage struct {
	Offset       uint64        `json:"offset"`
	Limit        uint64        `json:"limit"`
	Total        uint64        `json:"total"`
	Participants []Participant `json:"participants"`
}

func (sdk *fedSDK) ListParticipants(offset, limit uint64) (ParticipantPage, error) {
	url := sdk.aggregatorURL + participantsEndpoint + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return ParticipantPage{}, err
	}

	var pp ParticipantPage
	if err := json.Unmarshal(body, &pp); err != nil {
		return ParticipantPage{}, err
	}

	return pp, nil
}
