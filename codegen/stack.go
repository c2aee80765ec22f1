package codegen

// reserveOutgoingArgArea bumps stack_usage up front for the largest
// number of stack-passed call arguments this function makes, so every
// Local/spill allocated afterwards sits above it in the frame (spec.md
// §4.3.6 "outgoing-arg area"). wordSize is fixed at 8 here; vector
// targets needing larger slots reserve extra space themselves when
// lowering the call.
func (c *Ctx) reserveOutgoingArgArea(maxArgs int) {
	if maxArgs <= 0 {
		return
	}
	const wordSize = 8
	c.stackUsage += uint32(maxArgs * wordSize)
}
