package main

import (
	"context"

	"github.com/ehrlich-b/wingchat/internal/ws"
)

// nopChannel never connects.
type nopChannel struct{}

func (nopChannel) Connect(context.Context)      {}
func (nopChannel) Disconnect()                  {}
func (nopChannel) Send(string, any) error       { return ws.ErrNotConnected }
func (nopChannel) OnConnected(func())           {}
func (nopChannel) OnDisconnected(func(error))   {}
func (nopChannel) OnMessage(string, ws.Handler) {}
