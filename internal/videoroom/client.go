package videoroom

import (
	"context"
	"errors"
	"fmt"
	"time"

	lkauth "github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// Room is the collaborator's view of a live media room. CreationTime is zero when the server
// did not report one.
type Room struct {
	Name            string
	SID             string
	EmptyTimeout    time.Duration
	MaxParticipants uint32
	NumParticipants uint32
	ActiveRecording bool
	CreationTime    time.Time
	Metadata        string
}

// RoomSpec describes a room to create.
type RoomSpec struct {
	Name            string
	MaxParticipants uint32
	EmptyTimeout    time.Duration
	Metadata        string
}

// Grant is the set of capabilities a token carries for one room.
type Grant struct {
	Room           string
	CanPublish     bool
	CanSubscribe   bool
	CanPublishData bool
}

// TokenRequest describes an access token to mint. A zero TTL keeps the signer's default.
type TokenRequest struct {
	Identity string
	Name     string
	Metadata string
	Grant    Grant
	TTL      time.Duration
}

// Client talks to a LiveKit deployment.
type Client struct {
	rooms     *lksdk.RoomServiceClient
	apiKey    string
	apiSecret string
}

// New creates a LiveKit client. No network call is made until the first request.
func New(url, apiKey, apiSecret string) *Client {
	return &Client{
		rooms:     lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

// CreateRoom creates spec.Name, or returns the existing room when one with that name is already running.
func (c *Client) CreateRoom(ctx context.Context, spec RoomSpec) (*Room, error) {
	if spec.Name == "" {
		return nil, errors.New("videoroom: room name required")
	}
	room, err := c.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            spec.Name,
		EmptyTimeout:    uint32(spec.EmptyTimeout / time.Second),
		MaxParticipants: spec.MaxParticipants,
		Metadata:        spec.Metadata,
	})
	if err != nil {
		existing, listErr := c.ListRooms(ctx, spec.Name)
		if listErr == nil && len(existing) == 1 {
			return &existing[0], nil
		}
		return nil, fmt.Errorf("videoroom: create room %s: %w", spec.Name, err)
	}
	out := fromProto(room)
	return &out, nil
}

// ListRooms returns running rooms, restricted to names when any are given.
func (c *Client) ListRooms(ctx context.Context, names ...string) ([]Room, error) {
	resp, err := c.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{Names: names})
	if err != nil {
		return nil, fmt.Errorf("videoroom: list rooms: %w", err)
	}
	out := make([]Room, 0, len(resp.GetRooms()))
	for _, r := range resp.GetRooms() {
		out = append(out, fromProto(r))
	}
	return out, nil
}

// DeleteRoom closes a room and disconnects everyone in it.
func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	if _, err := c.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: name}); err != nil {
		return fmt.Errorf("videoroom: delete room %s: %w", name, err)
	}
	return nil
}

// MintToken signs a room access token with the API key pair.
func (c *Client) MintToken(req TokenRequest) (string, error) {
	if req.Identity == "" {
		return "", errors.New("videoroom: identity required")
	}
	canPublish := req.Grant.CanPublish
	canSubscribe := req.Grant.CanSubscribe
	canPublishData := req.Grant.CanPublishData
	grant := &lkauth.VideoGrant{
		RoomJoin:       true,
		Room:           req.Grant.Room,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}
	at := lkauth.NewAccessToken(c.apiKey, c.apiSecret).
		AddGrant(grant).
		SetIdentity(req.Identity).
		SetName(req.Name).
		SetMetadata(req.Metadata)
	if req.TTL > 0 {
		at.SetValidFor(req.TTL)
	}
	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("videoroom: sign token: %w", err)
	}
	return token, nil
}

func fromProto(r *livekit.Room) Room {
	var created time.Time
	if ts := r.GetCreationTime(); ts > 0 {
		created = time.Unix(ts, 0).UTC()
	}
	return Room{
		Name:            r.GetName(),
		SID:             r.GetSid(),
		EmptyTimeout:    time.Duration(r.GetEmptyTimeout()) * time.Second,
		MaxParticipants: r.GetMaxParticipants(),
		NumParticipants: r.GetNumParticipants(),
		ActiveRecording: r.GetActiveRecording(),
		CreationTime:    created,
		Metadata:        r.GetMetadata(),
	}
}
