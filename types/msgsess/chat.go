package msgsess

import "fmt"

type Chat struct {
	From string
	Text string
}

func (c *Chat) Type() MessageType { return ChatMessage }

func (c *Chat) Sender() string { return c.From }

func (c *Chat) appendPayload(b []byte) ([]byte, error) {
	return appendText(b, c.Text)
}

func (c *Chat) Debug() string {
	return fmt.Sprintf("chat from=%s len=%d", c.From, len(c.Text))
}
