package channel

// Close tears this channel down through its owning Agent, releasing its
// store handles and freeing its slot.
func (c *Channel) Close() error {
	return c.agent.Close(c)
}
