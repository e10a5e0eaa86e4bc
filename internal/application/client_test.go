package application

import (
	"strings"
	"testing"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/netloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientUploadImagePostsResult(t *testing.T) {
	chat := newFakeChat()
	loop := netloop.New()
	stop := runCommandLoop(t, loop)
	client := newClient(chat, loop, runUILoop(t), nil)

	uploaded := make(chan domain.UploadedImage, 1)
	require.NoError(t, client.UploadImage(strings.NewReader("PNGDATA"), "cat.png", func(image domain.UploadedImage) {
		uploaded <- image
	}))

	assert.Equal(t, domain.UploadedImage{ID: "img-1", Filename: "cat.png"}, await(t, uploaded))
	require.NoError(t, stop())
	assert.Equal(t, []string{"upload cat.png 7"}, chat.log.snapshot())
}

func TestClientDisconnectIsFinal(t *testing.T) {
	chat := newFakeChat()
	loop := netloop.New()
	runCommandLoop(t, loop)

	var before int
	client := newClient(chat, loop, runUILoop(t), func() { before++ })

	require.NoError(t, client.SetActive())
	require.NoError(t, client.Disconnect())
	require.ErrorIs(t, client.SetActive(), netloop.ErrClosed)

	<-chat.stop
	assert.Equal(t, 1, before)
	assert.Equal(t, []string{"set active", "disconnect"}, chat.log.snapshot())
}

func TestClientStateUpdateRelay(t *testing.T) {
	chat := newFakeChat()
	ui := runUILoop(t)
	client := newClient(chat, netloop.New(), ui, nil)

	updates := make(chan domain.StateUpdate, 1)
	tok := client.OnStateUpdate(func(update domain.StateUpdate) { updates <- update })
	reconnects := make(chan struct{}, 1)
	client.OnReconnect(func() { reconnects <- struct{}{} })

	chat.onState.Fire(domain.StateUpdate{ConversationID: "c-1", ActiveClientState: "self"})
	chat.onReconnect.Fire(struct{}{})

	assert.Equal(t, domain.ConversationID("c-1"), await(t, updates).ConversationID)
	await(t, reconnects)
	assert.True(t, client.DisconnectOnStateUpdate(tok))
}
