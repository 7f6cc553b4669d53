package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RedemptionAddType is the EventSub subscription type for channel point
// reward redemptions.
const RedemptionAddType = "channel.channel_points_custom_reward_redemption.add"

type subscriptionRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
}

// Transport is the delivery method of an EventSub subscription.
type Transport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id,omitempty"`
}

// SubscribeRedemptions subscribes the WebSocket session sessionID to reward
// redemptions of broadcasterID. A 401 or 403 response wraps
// [ErrUnauthorized] or [ErrForbidden].
func (c *Client) SubscribeRedemptions(ctx context.Context, accessToken, broadcasterID, sessionID string) error {
	body, err := json.Marshal(subscriptionRequest{
		Type:      RedemptionAddType,
		Version:   "1",
		Condition: map[string]string{"broadcaster_user_id": broadcasterID},
		Transport: Transport{Method: "websocket", SessionID: sessionID},
	})
	if err != nil {
		return fmt.Errorf("twitch: marshal subscription: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.helixURL+"/eventsub/subscriptions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("twitch: build subscription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("twitch: create subscription: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("twitch: create subscription: %w", err)
	}
	return nil
}
