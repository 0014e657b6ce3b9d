package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"telecom-signaling/internal/config"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/twitchtv/twirp"
)

var (
	ErrInvalidArgument = errors.New("media: invalid argument")
	ErrUnavailable     = errors.New("media: service unavailable")
)

// Credentials let one participant join one room.
type Credentials struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"roomName"`
}

// roomService is the part of the LiveKit RoomService API used here.
type roomService interface {
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
}

// LiveKit issues room-scoped access tokens and tears rooms down through the
// RoomService twirp API.
type LiveKit struct {
	apiKey    string
	apiSecret string
	url       string
	tokenTTL  time.Duration

	rooms roomService
}

func NewLiveKit(cfg config.LiveKitConfig, httpClient *http.Client) (*LiveKit, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.URL == "" || cfg.APIURL == "" {
		return nil, fmt.Errorf("media: livekit config incomplete")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LiveKit{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		url:       cfg.URL,
		tokenTTL:  ttl,
		rooms:     livekit.NewRoomServiceProtobufClient(cfg.APIURL, httpClient),
	}, nil
}

// IssueCredential returns a token that lets participantID join roomName with
// publish, subscribe and data rights.
func (l *LiveKit) IssueCredential(ctx context.Context, roomName, participantID, participantName string) (Credentials, error) {
	if roomName == "" || participantID == "" {
		return Credentials{}, ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	grant := &auth.VideoGrant{RoomJoin: true, Room: roomName}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)
	grant.SetCanPublishData(true)

	at := auth.NewAccessToken(l.apiKey, l.apiSecret).
		SetVideoGrant(grant).
		SetIdentity(participantID).
		SetName(participantName).
		SetValidFor(l.tokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Credentials{Token: token, URL: l.url, RoomName: roomName}, nil
}

// DestroyRoom deletes the room. A room that is already gone counts as success
// because both ends of a call race to tear it down.
func (l *LiveKit) DestroyRoom(ctx context.Context, roomName string) error {
	if roomName == "" {
		return ErrInvalidArgument
	}
	ctx, err := l.withServiceAuth(ctx, roomName)
	if err != nil {
		return err
	}
	_, err = l.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName})
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("%w: delete room: %v", ErrUnavailable, err)
}

// withServiceAuth attaches a short-lived admin token for the RoomService call.
func (l *LiveKit) withServiceAuth(ctx context.Context, roomName string) (context.Context, error) {
	at := auth.NewAccessToken(l.apiKey, l.apiSecret).
		SetVideoGrant(&auth.VideoGrant{RoomCreate: true, Room: roomName}).
		SetValidFor(time.Minute)
	token, err := at.ToJWT()
	if err != nil {
		return ctx, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	return twirp.WithHTTPRequestHeaders(ctx, h)
}

func isNotFound(err error) bool {
	var terr twirp.Error
	return errors.As(err, &terr) && terr.Code() == twirp.NotFound
}
