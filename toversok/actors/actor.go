package actors

import (
	"context"

	"github.com/edup2p/punchline/types/msgactor"
)

type ActorCommon struct {
	inbox   chan msgactor.ActorMessage
	ctx     context.Context
	ctxCan  context.CancelFunc
	running RunCheck
}

func MakeCommon(pCtx context.Context, chLen int) *ActorCommon {
	ctx, ctxCan := context.WithCancel(pCtx)

	var inbox chan msgactor.ActorMessage = nil

	if chLen >= 0 {
		inbox = make(chan msgactor.ActorMessage, chLen)
	}

	return &ActorCommon{
		inbox:   inbox,
		ctx:     ctx,
		ctxCan:  ctxCan,
		running: MakeRunCheck(),
	}
}

func (ac *ActorCommon) Inbox() chan<- msgactor.ActorMessage {
	return ac.inbox
}

func (ac *ActorCommon) Ctx() context.Context {
	return ac.ctx
}

func (ac *ActorCommon) Cancel() {
	ac.ctxCan()
}
