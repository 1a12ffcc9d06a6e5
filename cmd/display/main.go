package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mikeyoung304/expo-sync/internal/service/models/order"
	"github.com/mikeyoung304/expo-sync/internal/service/models/orderevent"
	"github.com/mikeyoung304/expo-sync/internal/urgency"
	"github.com/mikeyoung304/expo-sync/pkg/syncclient"
)

func main() {
	var (
		serverURL   = flag.String("server", "http://localhost:8080", "base URL of the sync server")
		restaurant  = flag.String("restaurant", "", "restaurant id this display belongs to")
		token       = flag.String("token", "", "staff bearer token")
		deviceToken = flag.String("device-token", "", "provisioned device token, fallback when no bearer token is set")
		warning     = flag.Int("warning-minutes", urgency.DefaultThresholds.WarningMinutes, "ticket age in minutes at which a ticket turns warning")
		urgent      = flag.Int("urgent-minutes", urgency.DefaultThresholds.UrgentMinutes, "ticket age in minutes at which a ticket turns urgent")
		refresh     = flag.Duration("refresh", 15*time.Second, "redraw interval between events, keeps ticket ages current")
		backoffBase = flag.Duration("backoff-base", time.Second, "reconnect delay added per attempt")
		backoffCap  = flag.Duration("backoff-cap", 30*time.Second, "upper bound on the reconnect delay")
		maxAttempts = flag.Int("max-attempts", 10, "consecutive failed reconnects before giving up")
		heartbeat   = flag.Duration("heartbeat", 10*time.Second, "interval between heartbeats sent to the gateway")
	)
	flag.Parse()

	if *restaurant == "" {
		fmt.Fprintln(os.Stderr, "--restaurant is required")
		os.Exit(2)
	}
	if *token == "" && *deviceToken == "" {
		fmt.Fprintln(os.Stderr, "--token or --device-token is required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cache := syncclient.NewCache()
	board := &board{
		cache: cache,
		thresholds: urgency.Thresholds{
			WarningMinutes: *warning,
			UrgentMinutes:  *urgent,
		},
		state: syncclient.StateConnecting,
	}

	dialer := &syncclient.WSDialer{
		URL:         wsURL(*serverURL),
		BearerToken: *token,
		DeviceToken: *deviceToken,
	}
	coord := syncclient.NewCoordinator(
		dialer,
		snapshotFunc(*serverURL, *token, *deviceToken),
		cache,
		syncclient.Config{
			RestaurantID: *restaurant,
			Backoff: syncclient.Backoff{
				Base:        *backoffBase,
				Cap:         *backoffCap,
				MaxAttempts: *maxAttempts,
			},
			HeartbeatInterval: *heartbeat,
		},
		syncclient.WithStateHandler(board.setState),
		syncclient.WithEventHandler(func(orderevent.OrderEvent) { board.render() }),
	)

	go func() {
		ticker := time.NewTicker(*refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				board.render()
			}
		}
	}()

	if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("Display sync ended", "error", err)
		os.Exit(1)
	}
}

// wsURL maps the HTTP base URL onto the gateway's websocket endpoint.
func wsURL(serverURL string) string {
	url := strings.TrimSuffix(serverURL, "/")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}

// snapshotFunc fetches the full board over the list endpoint with the same
// credentials the websocket presents.
func snapshotFunc(serverURL, token, deviceToken string) syncclient.SnapshotFunc {
	client := &http.Client{Timeout: 10 * time.Second}
	url := strings.TrimSuffix(serverURL, "/") + "/api/orders"
	return func(ctx context.Context) ([]order.Order, uint64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to build snapshot request: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if deviceToken != "" {
			req.Header.Set("X-Device-Token", deviceToken)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fetch snapshot: %w", err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return nil, 0, fmt.Errorf("snapshot request returned %d", resp.StatusCode)
		}

		var body struct {
			Orders   []order.Order `json:"orders"`
			Sequence uint64        `json:"sequence"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, 0, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		return body.Orders, body.Sequence, nil
	}
}

// board renders the cached ticket rail to the terminal. Urgency is computed
// at render time so ages stay current between events.
type board struct {
	cache      *syncclient.Cache
	thresholds urgency.Thresholds

	mu    sync.Mutex
	state syncclient.State
}

func (b *board) setState(state syncclient.State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
	b.render()
}

func (b *board) render() {
	b.mu.Lock()
	defer b.mu.Unlock()

	orders := b.cache.Orders()
	now := time.Now().UTC()

	fmt.Printf("\n[%s] state=%s orders=%d seq=%d\n",
		now.Format("15:04:05"), b.state, len(orders), b.cache.LastSequence())

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "URGENCY\tORDER\tSTATUS\tAGE\tITEMS")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ticketMarker(o, now, b.thresholds),
			shortID(o.ID),
			o.Status,
			formatAge(now.Sub(o.CreatedAt)),
			itemSummary(o.Items),
		)
	}
	tw.Flush()
}

// ticketMarker combines the age level with the modifier alert, "URGENT" or
// "URGENT/ALLERGY".
func ticketMarker(o order.Order, now time.Time, t urgency.Thresholds) string {
	marker := strings.ToUpper(urgency.ClassifyAge(now.Sub(o.CreatedAt), t).String())
	var modifiers []string
	for _, item := range o.Items {
		modifiers = append(modifiers, item.Modifiers...)
	}
	if c := urgency.ClassifyModifiers(modifiers); c != urgency.CategoryDefault {
		marker += "/" + strings.ToUpper(c.String())
	}
	return marker
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatAge(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	return fmt.Sprintf("%dm%02ds", int(age.Minutes()), int(age.Seconds())%60)
}

func itemSummary(items []order.LineItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		part := fmt.Sprintf("%dx %s", item.Quantity, item.Name)
		if len(item.Modifiers) > 0 {
			part += " (" + strings.Join(item.Modifiers, ", ") + ")"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
