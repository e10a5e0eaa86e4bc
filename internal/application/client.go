package application

import (
	"context"
	"io"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/netloop"
	"github.com/bnema/chatshell/internal/observer"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/bnema/chatshell/internal/relay"
)

// Client exposes connection-level events and commands of the running session.
type Client struct {
	chat ports.ChatService
	loop *netloop.Loop
	ui   ports.UILoop

	beforeDisconnect func()
}

func newClient(chat ports.ChatService, loop *netloop.Loop, ui ports.UILoop, beforeDisconnect func()) *Client {
	return &Client{chat: chat, loop: loop, ui: ui, beforeDisconnect: beforeDisconnect}
}

func (c *Client) OnConnect(cb func()) observer.Token {
	return relay.ConnectSignal(c.ui, c.chat.OnConnect(), cb)
}

func (c *Client) DisconnectOnConnect(tok observer.Token) bool {
	return relay.Disconnect(c.chat.OnConnect(), tok)
}

func (c *Client) OnReconnect(cb func()) observer.Token {
	return relay.ConnectSignal(c.ui, c.chat.OnReconnect(), cb)
}

func (c *Client) DisconnectOnReconnect(tok observer.Token) bool {
	return relay.Disconnect(c.chat.OnReconnect(), tok)
}

func (c *Client) OnDisconnect(cb func()) observer.Token {
	return relay.ConnectSignal(c.ui, c.chat.OnDisconnect(), cb)
}

func (c *Client) DisconnectOnDisconnect(tok observer.Token) bool {
	return relay.Disconnect(c.chat.OnDisconnect(), tok)
}

func (c *Client) OnStateUpdate(cb func(domain.StateUpdate)) observer.Token {
	return relay.Connect(c.ui, c.chat.OnStateUpdate(), cb)
}

func (c *Client) DisconnectOnStateUpdate(tok observer.Token) bool {
	return relay.Disconnect(c.chat.OnStateUpdate(), tok)
}

func (c *Client) SetActive() error {
	return c.loop.Submit(netloop.Command{Name: "set active", Run: c.chat.SetActive})
}

// Disconnect enqueues the final command. Commands submitted before it still run.
func (c *Client) Disconnect() error {
	return c.loop.SubmitFinal(netloop.Command{Name: "disconnect", Run: func(ctx context.Context) error {
		if c.beforeDisconnect != nil {
			c.beforeDisconnect()
		}
		return c.chat.Disconnect(ctx)
	}})
}

func (c *Client) UploadImage(r io.Reader, filename string, cb func(domain.UploadedImage)) error {
	return c.loop.Submit(netloop.Command{Name: "upload image", Run: func(ctx context.Context) error {
		image, err := c.chat.UploadImage(ctx, r, filename)
		if err != nil {
			return err
		}
		if cb != nil {
			c.ui.Post(func() { cb(image) })
		}
		return nil
	}})
}
