// Package outlets exposes the PDU as MCP tools: device identity, the cached
// status snapshot, single outlet reads and outlet switching.
package outlets

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/netio-mcp/internal/netio"
	"github.com/jamesprial/netio-mcp/internal/safety"
	"github.com/jamesprial/netio-mcp/internal/tools"
)

const (
	toolNameAgentInfo = "netio_agent_info"
	toolNameStatus    = "netio_status"
	toolNameOutlet    = "netio_outlet"
	toolNameOutletSet = "netio_outlet_set"
)

// DestructiveActions lists the actions that can cut power and therefore need
// a confirmation token.
var DestructiveActions = []netio.OutletAction{
	netio.ActionOff,
	netio.ActionShortOff,
	netio.ActionToggle,
}

// Device is the subset of the PDU client the tools call directly.
type Device interface {
	FetchAgentInfo(ctx context.Context) (*netio.AgentInfo, error)
	FetchOutlet(ctx context.Context, id netio.OutletID) (netio.OutletState, error)
	SetOutletAction(ctx context.Context, id netio.OutletID, action netio.OutletAction) error
}

// SnapshotSource provides the latest cached snapshot and an immediate read
// for when the cache is still empty.
type SnapshotSource interface {
	Snapshot() *netio.Snapshot
	Refresh(ctx context.Context) (*netio.Snapshot, error)
}

// CommandObserver is notified of the outcome of every command sent to the
// device. It may be nil.
type CommandObserver func(netio.OutletAction, error)

// OutletTools returns the tool registrations for the PDU.
func OutletTools(
	dev Device,
	snaps SnapshotSource,
	filter *safety.Filter,
	confirm *safety.ConfirmationTracker,
	audit *safety.AuditLogger,
	observe CommandObserver,
) []tools.Registration {
	return []tools.Registration{
		agentInfo(dev, snaps, audit),
		status(snaps, filter, audit),
		outlet(dev, filter, audit),
		outletSet(dev, snaps, filter, confirm, audit, observe),
	}
}

// ---------------------------------------------------------------------------
// Result views
// ---------------------------------------------------------------------------

// outletView renders enums by name for tool consumers.
type outletView struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	State         string  `json:"state"`
	Action        string  `json:"action"`
	DelayMS       int64   `json:"delay_ms"`
	CurrentMA     int64   `json:"current_ma"`
	LoadW         int64   `json:"load_w"`
	PowerFactor   float64 `json:"power_factor"`
	Phase         float64 `json:"phase"`
	EnergyWh      int64   `json:"energy_wh"`
	ReverseEnergy int64   `json:"reverse_energy_wh"`
}

type statusView struct {
	Source  string              `json:"source"`
	Agent   *netio.AgentInfo    `json:"agent,omitempty"`
	Global  netio.GlobalMeasure `json:"global"`
	Outlets []outletView        `json:"outlets"`
	Hidden  int                 `json:"hidden_outlets,omitempty"`
}

func newOutletView(o netio.OutletState) outletView {
	return outletView{
		ID:            int(o.ID),
		Name:          o.Name,
		State:         o.State.String(),
		Action:        o.Action.String(),
		DelayMS:       o.Delay,
		CurrentMA:     o.Current,
		LoadW:         o.Load,
		PowerFactor:   o.PowerFactor,
		Phase:         o.Phase,
		EnergyWh:      o.Energy,
		ReverseEnergy: o.ReverseEnergy,
	}
}

// ---------------------------------------------------------------------------
// Read tools
// ---------------------------------------------------------------------------

func agentInfo(dev Device, snaps SnapshotSource, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameAgentInfo,
		mcp.WithDescription("Return the PDU identity: model, device name, MAC, serial number, firmware version and outlet count."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := tools.Begin(audit, toolNameAgentInfo, nil)

		if snap := snaps.Snapshot(); snap != nil && snap.Agent != nil {
			return call.JSON(snap.Agent), nil
		}

		info, err := dev.FetchAgentInfo(ctx)
		if err != nil {
			return call.Fail(err), nil
		}
		return call.JSON(info), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func status(snaps SnapshotSource, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameStatus,
		mcp.WithDescription("Return the latest PDU reading: line voltage, frequency, totals and the state and consumption of every outlet."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := tools.Begin(audit, toolNameStatus, nil)

		source := "cache"
		snap := snaps.Snapshot()
		if snap == nil {
			var err error
			snap, err = snaps.Refresh(ctx)
			if err != nil {
				return call.Fail(err), nil
			}
			source = "live"
		}

		allowed := filter.FilterOutlets(snap.Outputs)
		view := statusView{
			Source:  source,
			Agent:   snap.Agent,
			Global:  snap.GlobalMeasure,
			Outlets: make([]outletView, 0, len(allowed)),
			Hidden:  len(snap.Outputs) - len(allowed),
		}
		for _, o := range allowed {
			view.Outlets = append(view.Outlets, newOutletView(o))
		}
		return call.JSON(view), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func outlet(dev Device, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameOutlet,
		mcp.WithDescription("Read one outlet directly from the PDU."),
		mcp.WithString("outlet",
			mcp.Required(),
			mcp.Description("Outlet number (1-based), e.g. \"2\" or \"output_2\""),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := req.GetString("outlet", "")
		call := tools.Begin(audit, toolNameOutlet, map[string]any{"outlet": raw})

		id, err := netio.ParseOutletID(raw)
		if err == nil && id == netio.AllOutlets {
			err = fmt.Errorf("%w: use %s to read every outlet", netio.ErrInvalidSelector, toolNameStatus)
		}
		if err != nil {
			return call.Fail(err), nil
		}

		o, err := dev.FetchOutlet(ctx, id)
		if err != nil {
			return call.Fail(err), nil
		}
		if !filter.AllowsOutlet(o.ID, o.Name) {
			return call.Deny(fmt.Errorf("access to outlet %d is not allowed", int(id))), nil
		}
		return call.JSON(newOutletView(o)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// ---------------------------------------------------------------------------
// Switching
// ---------------------------------------------------------------------------

func outletSet(
	dev Device,
	snaps SnapshotSource,
	filter *safety.Filter,
	confirm *safety.ConfirmationTracker,
	audit *safety.AuditLogger,
	observe CommandObserver,
) tools.Registration {
	tool := mcp.NewTool(toolNameOutletSet,
		mcp.WithDescription("Switch one outlet or all outlets. off, short_off and toggle can cut power and require confirmation."),
		mcp.WithString("outlet",
			mcp.Required(),
			mcp.Description("Outlet number (1-based) or \"all\""),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("on, off, short_off (power cycle), short_on, toggle or no_change"),
			mcp.Enum("on", "off", "short_off", "short_on", "toggle", "no_change"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawOutlet := req.GetString("outlet", "")
		rawAction := req.GetString("action", "")
		token := req.GetString("confirmation_token", "")
		call := tools.Begin(audit, toolNameOutletSet, map[string]any{"outlet": rawOutlet, "action": rawAction})

		id, err := netio.ParseOutletID(rawOutlet)
		if err != nil {
			return call.Fail(err), nil
		}
		action, err := netio.ParseOutletAction(rawAction)
		if err == nil && !action.Settable() {
			err = fmt.Errorf("%w: %s cannot be sent to the device", netio.ErrInvalidAction, action)
		}
		if err != nil {
			return call.Fail(err), nil
		}

		label, err := checkAllowed(ctx, snaps, filter, id)
		if err != nil {
			return call.Deny(err), nil
		}

		target := targetKey(id) + ":" + strings.ToLower(action.String())
		if isDestructive(action) && !confirm.Confirm(token, toolNameOutletSet, target) {
			desc := fmt.Sprintf("This will send %s to %s and may cut power to connected equipment.", action, label)
			return tools.ConfirmPrompt(confirm, toolNameOutletSet, target, desc), nil
		}

		err = dev.SetOutletAction(ctx, id, action)
		if observe != nil {
			observe(action, err)
		}
		if err != nil {
			return call.Fail(err), nil
		}
		return call.Text(fmt.Sprintf("%s accepted for %s", action, label)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// checkAllowed applies the safety filter to the addressed outlets and returns
// a human readable label for them. Name rules need the outlet names, so an
// empty cache triggers a read and the command is refused if that read fails.
func checkAllowed(ctx context.Context, snaps SnapshotSource, filter *safety.Filter, id netio.OutletID) (string, error) {
	snap := snaps.Snapshot()
	if snap == nil {
		var err error
		if snap, err = snaps.Refresh(ctx); err != nil {
			return "", fmt.Errorf("cannot verify outlet permissions: %w", err)
		}
	}

	if id != netio.AllOutlets {
		var name string
		if o, ok := snap.Outlet(id); ok {
			name = o.Name
		}
		if !filter.AllowsOutlet(id, name) {
			return "", fmt.Errorf("access to outlet %d is not allowed", int(id))
		}
		if name != "" {
			return fmt.Sprintf("outlet %d (%s)", int(id), name), nil
		}
		return fmt.Sprintf("outlet %d", int(id)), nil
	}

	for _, o := range snap.Outputs {
		if !filter.AllowsOutlet(o.ID, o.Name) {
			return "", fmt.Errorf("outlet %d is not allowed, refusing to switch all outlets", int(o.ID))
		}
	}
	return "all outlets", nil
}

func targetKey(id netio.OutletID) string {
	if id == netio.AllOutlets {
		return "all"
	}
	return safety.OutletKey(id)
}

func isDestructive(a netio.OutletAction) bool {
	for _, d := range DestructiveActions {
		if a == d {
			return true
		}
	}
	return false
}
