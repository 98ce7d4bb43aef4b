// Package obs mutes and unmutes OBS Studio inputs over obs-websocket (protocol v5).
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"ltlive/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Protocol opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7
)

const (
	rpcVersion = 1
	// statusInvalidResourceState is returned when muting an input without audio.
	statusInvalidResourceState = 604
)

// Config configures the OBS client.
type Config struct {
	Host     string
	Port     int
	Password string
	Timeout  time.Duration // per operation, default 10s
	Logger   *slog.Logger
}

// Client implements domain.StreamControl. Each call opens its own session,
// so a restarted OBS needs no reconnection logic.
type Client struct {
	addr     string
	password string
	timeout  time.Duration
	logger   *slog.Logger
}

var _ domain.StreamControl = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 4455
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		password: cfg.Password,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Mute mutes every input.
func (c *Client) Mute(ctx context.Context) error { return c.setAllMuted(ctx, true) }

// Unmute unmutes every input.
func (c *Client) Unmute(ctx context.Context) error { return c.setAllMuted(ctx, false) }

// Version connects, authenticates and returns the obs-websocket version.
func (c *Client) Version(ctx context.Context) (string, error) {
	s, err := c.open(ctx)
	if err != nil {
		return "", err
	}
	defer s.close()
	return s.version, nil
}

func (c *Client) setAllMuted(ctx context.Context, muted bool) error {
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	var list struct {
		Inputs []struct {
			InputName string `json:"inputName"`
		} `json:"inputs"`
	}
	if err := s.call("GetInputList", nil, &list); err != nil {
		return err
	}

	var errs []error
	for _, in := range list.Inputs {
		err := s.call("SetInputMute", map[string]any{"inputName": in.InputName, "inputMute": muted}, nil)
		var se *StatusError
		switch {
		case err == nil:
		case errors.As(err, &se) && se.Code == statusInvalidResourceState:
			c.logger.Debug("input has no audio, skipped", "input", in.InputName)
		default:
			errs = append(errs, fmt.Errorf("input %q: %w", in.InputName, err))
		}
	}

	c.logger.Info("obs inputs updated", "muted", muted, "inputs", len(list.Inputs), "failed", len(errs))
	return errors.Join(errs...)
}

// StatusError is a failed request status reported by OBS.
type StatusError struct {
	Request string
	Code    int
	Comment string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("obs %s failed (%d): %s", e.Request, e.Code, e.Comment)
}

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type hello struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type request struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type response struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

type session struct {
	conn    *websocket.Conn
	version string
}

func (c *Client) open(ctx context.Context) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+c.addr, nil)
	if err != nil {
		return nil, fmt.Errorf("obs connect %s: %w", c.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	s := &session{conn: conn}
	if err := s.handshake(c.password); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) handshake(password string) error {
	var h hello
	if err := s.expect(opHello, &h); err != nil {
		return fmt.Errorf("obs hello: %w", err)
	}
	s.version = h.ObsWebSocketVersion

	id := identify{RPCVersion: rpcVersion}
	if h.Authentication != nil {
		if password == "" {
			return errors.New("obs requires a password")
		}
		id.Authentication = authResponse(password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := s.send(opIdentify, id); err != nil {
		return fmt.Errorf("obs identify: %w", err)
	}
	if err := s.expect(opIdentified, nil); err != nil {
		return fmt.Errorf("obs identify rejected: %w", err)
	}
	return nil
}

// authResponse computes base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func (s *session) call(requestType string, data any, out any) error {
	id := uuid.NewString()
	if err := s.send(opRequest, request{RequestType: requestType, RequestID: id, RequestData: data}); err != nil {
		return fmt.Errorf("obs %s: %w", requestType, err)
	}

	for {
		var resp response
		if err := s.expect(opRequestResponse, &resp); err != nil {
			return fmt.Errorf("obs %s: %w", requestType, err)
		}
		if resp.RequestID != id {
			continue
		}
		if !resp.RequestStatus.Result {
			return &StatusError{Request: requestType, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("obs %s: decode response: %w", requestType, err)
			}
		}
		return nil
	}
}

func (s *session) send(op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.conn.WriteJSON(message{Op: op, D: raw})
}

// expect reads until a message with op arrives, skipping events.
func (s *session) expect(op int, out any) error {
	for {
		var m message
		if err := s.conn.ReadJSON(&m); err != nil {
			return err
		}
		if m.Op != op {
			continue
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(m.D, out)
	}
}

func (s *session) close() {
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.conn.Close()
}

// Noop is the StreamControl used when OBS is not configured.
type Noop struct{}

var _ domain.StreamControl = Noop{}

func (Noop) Mute(context.Context) error   { return domain.ErrStreamControlUnavailable }
func (Noop) Unmute(context.Context) error { return domain.ErrStreamControlUnavailable }
