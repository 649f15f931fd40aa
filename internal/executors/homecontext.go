package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/srprobotics/homeagent/internal/mcpcontrol"
	"github.com/srprobotics/homeagent/internal/task"
)

// deviceInfo is one device surfaced by the home platform's live-context
// tool, parsed out of whichever of the two response shapes that tool
// returns (a YAML-ish device block, or a JSON entities list).
type deviceInfo struct {
	EntityID     string
	FriendlyName string
	Area         string
	State        string
	DeviceType   string
	Position     *int
}

// homeContextCache holds the most recently fetched device list, refreshed
// on a TTL or on demand when a step fails with a device-not-found error.
type homeContextCache struct {
	mu        sync.Mutex
	devices   []deviceInfo
	fetchedAt time.Time
}

func (c *homeContextCache) valid(ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchedAt.IsZero() {
		return false
	}
	return time.Since(c.fetchedAt) < ttl
}

func (c *homeContextCache) set(devices []deviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = devices
	c.fetchedAt = time.Now()
}

func (c *homeContextCache) get() []deviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]deviceInfo, len(c.devices))
	copy(out, c.devices)
	return out
}

// homeAutomationEntityWords co-occurring with homeAutomationActionWords mark a task as
// home-automation flavored even without a prior Hass tool call in history.
var homeAutomationActionWords = []string{"turn on", "turn off", "open", "close", "set", "dim", "lock", "unlock", "start", "stop"}
var homeAutomationEntityWords = []string{"light", "lamp", "curtain", "blind", "cover", "thermostat", "lock", "switch", "fan", "heater", "ac", "door", "window"}

// isHomeAutomationTask reports whether a task's goal or history suggests it
// targets the home-automation platform, used to decide whether live device
// context should be fetched before routing.
func (e *McpExecutor) isHomeAutomationTask(t *task.Task) bool {
	if task.BoolField(t.Context, "is_home_automation", false) {
		return true
	}
	for _, h := range t.History {
		if tool, ok := h.Fields["tool"].(string); ok {
			serverID, _ := h.Fields["server_id"].(string)
			if strings.Contains(strings.ToLower(serverID), "hass") || strings.Contains(strings.ToLower(serverID), "home") {
				_ = tool
				return true
			}
		}
	}
	goal := strings.ToLower(task.StringField(t.ExecutionData, "goal", ""))
	hasAction := false
	for _, w := range homeAutomationActionWords {
		if strings.Contains(goal, w) {
			hasAction = true
			break
		}
	}
	if !hasAction {
		return false
	}
	for _, w := range homeAutomationEntityWords {
		if strings.Contains(goal, w) {
			return true
		}
	}
	return false
}

// ensureHomeContext fetches the live device list via whichever connection's
// server id mentions the home platform, using the cached copy unless it has
// expired or forceRefresh is set. Failures are tolerated: routing proceeds
// without device context rather than failing the step outright.
func (e *McpExecutor) ensureHomeContext(ctx context.Context, forceRefresh bool) []deviceInfo {
	if e.homeCtx == nil {
		e.homeCtx = &homeContextCache{}
	}
	if !forceRefresh && e.homeCtx.valid(e.HomeContextTTL) {
		return e.homeCtx.get()
	}

	var homeConn *mcpcontrol.Connection
	for id, conn := range e.Connections {
		lower := strings.ToLower(id)
		if strings.Contains(lower, "home") || strings.Contains(lower, "hass") {
			homeConn = conn
			break
		}
	}
	if homeConn == nil {
		return e.homeCtx.get()
	}

	result := homeConn.CallTool(ctx, "GetLiveContext", map[string]any{})
	if !result.Success || result.Result == nil {
		e.Logger.Warn("failed to refresh home context", "error", result.Error)
		return e.homeCtx.get()
	}

	devices := parseLiveContext(result.Result.Content)
	e.homeCtx.set(devices)
	return devices
}

// parseLiveContext parses the live-context tool's response in either of its
// two observed shapes: a block of YAML-ish device entries, or a JSON object
// carrying an "entities" list.
func parseLiveContext(content any) []deviceInfo {
	text, ok := content.(string)
	if !ok {
		if raw, err := json.Marshal(content); err == nil {
			text = string(raw)
		}
	}

	if devices := parseEntitiesJSON(text); devices != nil {
		return devices
	}
	return parseEntitiesYAML(text)
}

func parseEntitiesJSON(text string) []deviceInfo {
	var payload struct {
		Entities []map[string]any `json:"entities"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil || payload.Entities == nil {
		return nil
	}
	out := make([]deviceInfo, 0, len(payload.Entities))
	for _, e := range payload.Entities {
		d := deviceInfo{
			EntityID:     task.StringField(e, "entity_id", ""),
			FriendlyName: task.StringField(e, "friendly_name", ""),
			Area:         task.StringField(e, "area", ""),
			State:        task.StringField(e, "state", ""),
			DeviceType:   task.StringField(e, "device_type", ""),
		}
		if pos, ok := e["position"]; ok {
			if p, ok := pos.(float64); ok {
				ip := int(p)
				d.Position = &ip
			}
		}
		out = append(out, d)
	}
	return out
}

func parseEntitiesYAML(text string) []deviceInfo {
	var devices []deviceInfo
	blocks := strings.Split(text, "\n- ")
	for _, block := range blocks {
		entityMatch := regexp.MustCompile(`entity_id:\s*(\S+)`).FindStringSubmatch(block)
		if entityMatch == nil {
			continue
		}
		d := deviceInfo{EntityID: entityMatch[1]}
		if m := regexp.MustCompile(`friendly_name:\s*(.+)`).FindStringSubmatch(block); m != nil {
			d.FriendlyName = strings.TrimSpace(m[1])
		}
		if m := regexp.MustCompile(`area:\s*(.+)`).FindStringSubmatch(block); m != nil {
			d.Area = strings.TrimSpace(m[1])
		}
		if m := regexp.MustCompile(`state:\s*(.+)`).FindStringSubmatch(block); m != nil {
			d.State = strings.TrimSpace(m[1])
		}
		if m := regexp.MustCompile(`device_type:\s*(.+)`).FindStringSubmatch(block); m != nil {
			d.DeviceType = strings.TrimSpace(m[1])
		}
		devices = append(devices, d)
	}
	return devices
}

// enhanceGoalWithDevices appends up to 10 known devices and the
// parameter-usage rules the router needs to the task goal. Cover-device
// position follows the same 0=closed/100=open convention as the router's
// system prompt.
func enhanceGoalWithDevices(goal string, devices []deviceInfo) string {
	if len(devices) == 0 {
		return goal
	}

	limit := len(devices)
	if limit > 10 {
		limit = 10
	}

	var sb strings.Builder
	sb.WriteString(goal)
	sb.WriteString("\n\nAvailable devices:\n")
	for _, d := range devices[:limit] {
		sb.WriteString(fmt.Sprintf("- %s (%s) in %s, state=%s\n", d.FriendlyName, d.EntityID, d.Area, d.State))
	}
	sb.WriteString("\nParameter rules: always use entity_id, not friendly_name. ")
	sb.WriteString("For cover devices (curtains, blinds, shades), position ranges 0-100 where 0 is fully closed and 100 is fully open.\n")
	return sb.String()
}
