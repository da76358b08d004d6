package petlibro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Feed and tray endpoints.
const (
	pathManualFeedNow = "/device/wetFeedingPlan/manualFeedNow"
	pathStopFeedNow   = "/device/wetFeedingPlan/stopFeedNow"
	pathSetStopFeed   = "/device/device/setStopFeedNow"
	pathPlateChange   = "/device/wetFeedingPlan/platePositionChange"
	pathFeedAudio     = "/device/wetFeedingPlan/feedAudio"
	pathManualFeeding = "/device/device/manualFeeding"
)

// Stop strategy names, reported in StopResult.Strategy.
const (
	StrategyDirect            = "direct"
	StrategyResolveActiveFeed = "resolve-active-feed"
	StrategyStopSentinel      = "stop-sentinel"
	StrategyAlternateEndpoint = "alternate-endpoint"
	StrategyStartEndpointStop = "start-endpoint-stop-action"
)

// errNoActiveFeed means the snapshot named no active feed.
var errNoActiveFeed = errors.New("petlibro: snapshot has no active feed id")

// StartManualFeed opens the feeder (starts a manual wet-food feed). When
// the vendor returns no feed id, the session carries a placeholder id.
func (c *Client) StartManualFeed(ctx context.Context, deviceID string) (FeedSession, error) {
	data, err := c.deviceCall(ctx, pathManualFeedNow, deviceID, map[string]any{"plate": 1}, c.feedTimeout)
	if err != nil {
		return FeedSession{}, err
	}

	now := c.now()
	sess := FeedSession{
		DeviceID:  deviceID,
		FeedID:    extractFeedID(data),
		StartedAt: now,
	}
	if sess.FeedID == "" {
		sess.FeedID = fmt.Sprintf("%s%s_%d", PlaceholderPrefix, deviceID, now.UnixMilli())
		sess.Placeholder = true
		c.logger.Warn("manual feed started without a feed id, using placeholder",
			"device_id", deviceID,
			"feed_id", sess.FeedID,
		)
	}
	return sess, nil
}

// extractFeedID reads the feed id from a manualFeedNow response: an
// object field, or the data value itself when it is a scalar.
func extractFeedID(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return ""
	}
	switch d := v.(type) {
	case map[string]any:
		return firstField(d, "manualFeedId", "feedId", "id")
	case string:
		return d
	case float64:
		return strconv.FormatFloat(d, 'f', -1, 64)
	default:
		return ""
	}
}

// StopManualFeed closes the feeder. A real feed id is sent directly. A
// placeholder id is never sent; the client's StopChain runs instead.
func (c *Client) StopManualFeed(ctx context.Context, deviceID, feedID string) (StopResult, error) {
	if deviceID == "" {
		return StopResult{}, fmt.Errorf("%w: no device id to stop feed", ErrState)
	}
	if feedID == "" {
		return StopResult{}, fmt.Errorf("%w: no feed id recorded for %s", ErrState, deviceID)
	}

	if IsPlaceholderFeedID(feedID) {
		c.logger.Info("stopping feed with placeholder id, running stop chain",
			"device_id", deviceID,
			"strategies", len(c.stopChain),
		)
		return c.stopChain.Run(ctx, c, deviceID)
	}

	if err := c.stopWithID(ctx, deviceID, feedID); err != nil {
		return StopResult{}, err
	}
	return StopResult{DeviceID: deviceID, FeedID: feedID, Strategy: StrategyDirect}, nil
}

func (c *Client) stopWithID(ctx context.Context, deviceID string, feedID any) error {
	_, err := c.deviceCall(ctx, pathStopFeedNow, deviceID, map[string]any{"feedId": feedID}, 0)
	return err
}

// StopStrategy is one way of stopping a feed whose id is unknown. Run
// returns the feed id it used, if any.
type StopStrategy struct {
	Name string
	Run  func(ctx context.Context, c *Client, deviceID string) (feedID string, err error)
}

// StopChain is an ordered list of stop strategies.
type StopChain []StopStrategy

// DefaultStopChain returns the strategies in the order they are tried:
// resolve the real id from the snapshot, stop with a sentinel id, the
// alternate stop endpoint, and finally the start endpoint's stop action.
func DefaultStopChain() StopChain {
	return StopChain{
		{Name: StrategyResolveActiveFeed, Run: resolveActiveFeed},
		{Name: StrategyStopSentinel, Run: stopSentinel},
		{Name: StrategyAlternateEndpoint, Run: stopAlternateEndpoint},
		{Name: StrategyStartEndpointStop, Run: stopViaStartEndpoint},
	}
}

// Run tries each strategy in order and returns on the first success. If
// all fail the error is a *ChainError holding every attempt.
func (ch StopChain) Run(ctx context.Context, c *Client, deviceID string) (StopResult, error) {
	chainErr := &ChainError{DeviceID: deviceID}
	for _, s := range ch {
		if err := ctx.Err(); err != nil {
			chainErr.Attempts = append(chainErr.Attempts, StrategyError{Strategy: s.Name, Err: err})
			break
		}
		feedID, err := s.Run(ctx, c, deviceID)
		if err == nil {
			c.logger.Info("feed stopped", "device_id", deviceID, "strategy", s.Name)
			return StopResult{DeviceID: deviceID, FeedID: feedID, Strategy: s.Name}, nil
		}
		c.logger.Warn("stop strategy failed", "device_id", deviceID, "strategy", s.Name, "error", err)
		chainErr.Attempts = append(chainErr.Attempts, StrategyError{Strategy: s.Name, Err: err})
	}
	if len(chainErr.Attempts) == 0 {
		chainErr.Attempts = append(chainErr.Attempts, StrategyError{Strategy: "none", Err: errors.New("stop chain is empty")})
	}
	return StopResult{}, chainErr
}

func resolveActiveFeed(ctx context.Context, c *Client, deviceID string) (string, error) {
	snap, err := c.RealInfo(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if snap.ActiveFeedID == "" || IsPlaceholderFeedID(snap.ActiveFeedID) {
		return "", errNoActiveFeed
	}
	if err := c.stopWithID(ctx, deviceID, snap.ActiveFeedID); err != nil {
		return "", err
	}
	return snap.ActiveFeedID, nil
}

func stopSentinel(ctx context.Context, c *Client, deviceID string) (string, error) {
	return "", c.stopWithID(ctx, deviceID, 0)
}

func stopAlternateEndpoint(ctx context.Context, c *Client, deviceID string) (string, error) {
	_, err := c.deviceCall(ctx, pathSetStopFeed, deviceID, nil, 0)
	return "", err
}

func stopViaStartEndpoint(ctx context.Context, c *Client, deviceID string) (string, error) {
	_, err := c.deviceCall(ctx, pathManualFeedNow, deviceID, map[string]any{"action": "stop"}, 0)
	return "", err
}

// RotateTray advances the tray by one position. The device only rotates
// forward.
func (c *Client) RotateTray(ctx context.Context, deviceID string) error {
	_, err := c.deviceCall(ctx, pathPlateChange, deviceID, map[string]any{"plate": 1}, 0)
	return err
}

// PlayAudio plays the feeding call on the device speaker.
func (c *Client) PlayAudio(ctx context.Context, deviceID string) error {
	_, err := c.deviceCall(ctx, pathFeedAudio, deviceID, nil, 0)
	return err
}

// ManualFeeding dispenses portions on a dry-food feeder. The request id is
// a fresh UUID per call.
func (c *Client) ManualFeeding(ctx context.Context, deviceID string, portions int) (string, error) {
	if portions < 1 {
		return "", fmt.Errorf("%w: portions must be at least 1, got %d", ErrState, portions)
	}
	requestID := uuid.NewString()
	_, err := c.deviceCall(ctx, pathManualFeeding, deviceID, map[string]any{
		"grainNum":  portions,
		"requestId": requestID,
	}, c.feedTimeout)
	if err != nil {
		return "", err
	}
	return requestID, nil
}
