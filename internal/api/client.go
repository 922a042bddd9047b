package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/chatsync/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's unix socket. The connection is established
// lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return decode(out, resp)
}

func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	var info StatusInfo
	if err := c.call(ctx, MethodStatus, struct{}{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Rooms lists visible rooms, every room when all is set, or the rooms whose
// name matches query.
func (c *Client) Rooms(ctx context.Context, all bool, query string) ([]model.Room, error) {
	var resp roomsResponse
	err := c.call(ctx, MethodListRooms, ListRoomsRequest{All: all, Query: query}, &resp)
	return resp.Rooms, err
}

func (c *Client) Messages(ctx context.Context, roomID model.ID) ([]model.Message, error) {
	var resp messagesResponse
	err := c.call(ctx, MethodListMessages, RoomRequest{RoomID: roomID}, &resp)
	return resp.Messages, err
}

// SelectRoom selects roomID and returns its messages.
func (c *Client) SelectRoom(ctx context.Context, roomID model.ID) ([]model.Message, error) {
	var resp messagesResponse
	err := c.call(ctx, MethodSelectRoom, RoomRequest{RoomID: roomID}, &resp)
	return resp.Messages, err
}

func (c *Client) SendText(ctx context.Context, roomID model.ID, content string) (model.Message, error) {
	var resp messageResponse
	err := c.call(ctx, MethodSendText, SendTextRequest{RoomID: roomID, Content: content}, &resp)
	return resp.Message, err
}

func (c *Client) SendFile(ctx context.Context, roomID model.ID, path string) (*model.File, error) {
	var resp fileResponse
	err := c.call(ctx, MethodSendFile, SendFileRequest{RoomID: roomID, Path: path}, &resp)
	return resp.File, err
}

func (c *Client) HideRoom(ctx context.Context, roomID model.ID) error {
	return c.call(ctx, MethodHideRoom, RoomRequest{RoomID: roomID}, nil)
}

func (c *Client) CreateDirectRoom(ctx context.Context, userID model.ID) (model.Room, error) {
	var resp roomResponse
	err := c.call(ctx, MethodCreateDirectRoom, UserRequest{UserID: userID}, &resp)
	return resp.Room, err
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	var resp usersResponse
	err := c.call(ctx, MethodSearchUsers, SearchRequest{Query: query}, &resp)
	return resp.Users, err
}

func (c *Client) SearchMessages(ctx context.Context, query string, limit int) ([]model.Message, error) {
	var resp messagesResponse
	err := c.call(ctx, MethodSearchMessages, SearchRequest{Query: query, Limit: limit}, &resp)
	return resp.Messages, err
}

func (c *Client) SetFocus(ctx context.Context, focused bool) error {
	return c.call(ctx, MethodSetFocus, FocusRequest{Focused: focused}, nil)
}

func (c *Client) Typing(ctx context.Context, roomID model.ID, typing bool) error {
	return c.call(ctx, MethodTyping, TypingRequest{RoomID: roomID, Typing: typing}, nil)
}

func (c *Client) Sync(ctx context.Context) error {
	return c.call(ctx, MethodSync, struct{}{}, nil)
}

func (c *Client) Login(ctx context.Context, token string) (*StatusInfo, error) {
	var info StatusInfo
	if err := c.call(ctx, MethodLogin, LoginRequest{Token: token}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, MethodLogout, struct{}{}, nil)
}

// Watch streams events in namespace ("" for all) to fn until ctx is done,
// the stream ends, or fn returns an error.
func (c *Client) Watch(ctx context.Context, namespace string, fn func(Event) error) error {
	desc := &ServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, fullMethod(StreamWatchEvents))
	if err != nil {
		return err
	}
	in, err := encode(WatchRequest{Namespace: namespace})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var evt Event
		if err := decode(out, &evt); err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
