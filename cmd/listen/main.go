// Command listen follows an organization's feed from the terminal: it loads
// the current posts over REST, then applies live events from the gateway and
// reprints the feed after each change.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"murmur/client"
	"murmur/codec"
	"murmur/config"
	"murmur/events"
	"murmur/feed"
	"murmur/middleware"
	"murmur/models"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	addr := flag.String("addr", "http://127.0.0.1:"+cfg.Port, "base URL of the murmur server")
	token := flag.String("token", "", "bearer token; minted from -jwt-secret when empty")
	jwtSecret := flag.String("jwt-secret", cfg.JWTSecret, "secret used to mint a development token")
	user := flag.String("user", "listener", "user id for a minted token")
	org := flag.String("org", "", "organization to follow")
	role := flag.String("role", string(events.RoleEmployee), "role for a minted token")
	key := flag.String("key", cfg.EncryptionKey, "content encryption key")
	salt := flag.String("salt", cfg.EncryptionSalt, "content encryption salt")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *org == "" {
		return errors.New("-org is required")
	}
	if *token == "" {
		if *jwtSecret == "" {
			return errors.New("either -token or -jwt-secret is required")
		}
		claims := middleware.Claims{UserID: *user, OrgID: *org, Role: events.Role(*role)}
		if *token, err = middleware.IssueToken(*jwtSecret, claims, 24*time.Hour); err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
	}

	baseURL, err := url.Parse(*addr)
	if err != nil {
		return fmt.Errorf("parse -addr: %w", err)
	}
	c, err := codec.New(*key, *salt, codec.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshot, err := fetchPosts(ctx, baseURL, *token)
	if err != nil {
		return err
	}
	f := feed.NewFeed(*org, c, snapshot, feed.WithLogger(logger))
	render(os.Stdout, f.View())

	auth := events.NewAuth(*org, events.Role(*role), *token)
	sup := client.New(client.Config{
		URL:  wsURL(baseURL),
		Auth: &auth,
		OnStateChange: func(s client.State) {
			logger.Info("gateway connection", "state", s)
		},
	}, client.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})
	g.Go(func() error {
		for frame := range sup.Events() {
			if f.Handle(frame) {
				render(os.Stdout, f.View())
			}
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, client.ErrReconnectExhausted) {
		fmt.Fprintln(os.Stderr, "lost connection to the server; the feed above is stale. Restart to refresh.")
	}
	return err
}

func wsURL(base *url.URL) string {
	u := *base.JoinPath("ws")
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	return u.String()
}

func fetchPosts(ctx context.Context, base *url.URL, token string) ([]models.Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath("api", "posts").String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body struct {
		Posts []models.Post `json:"posts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	return body.Posts, nil
}

func render(w io.Writer, posts []feed.PostView) {
	fmt.Fprintf(w, "\n=== %d posts (%s) ===\n", len(posts), time.Now().Format(time.TimeOnly))
	for _, p := range posts {
		fmt.Fprintf(w, "[%s] %s%s\n", p.CreatedAt.Local().Format(time.DateTime), p.Content, reactionSummary(p.Reactions))
		for _, c := range p.Comments {
			fmt.Fprintf(w, "    - %s%s\n", c.Text, reactionSummary(c.Reactions))
		}
	}
}

func reactionSummary(r models.Reactions) string {
	var parts []string
	for _, t := range models.ReactionTypes {
		if n := r.Count(t); n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", t, n))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "  (" + strings.Join(parts, " ") + ")"
}
