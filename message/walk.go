package message

// PartWalker is a function that can be processed for each part of a message.
// The depth is 0 for the part the walk starts at. The index is the position of
// the part within its parent.
type PartWalker func(depth, i int, part *Part) error

// Walk performs a depth first search for all the parts of a message starting
// with the given part itself. It calls the PartWalker for each part. A
// message/rfc822 body counts as a parent with one child, the nested message.
// If the PartWalker returns an error, then processing stops immediately and the
// error is returned.
func (w PartWalker) Walk(p *Part) error {
	type entry struct {
		depth int
		i     int
		part  *Part
	}

	openStack := make([]entry, 0, 10)

	pushStack := func(depth int, p *Part) {
		parts := p.Parts()
		for i := len(parts) - 1; i >= 0; i-- {
			openStack = append(openStack, entry{depth, i, parts[i]})
		}
	}

	popStack := func() entry {
		end := len(openStack) - 1
		e := openStack[end]
		openStack = openStack[:end]
		return e
	}

	openStack = append(openStack, entry{0, 0, p})
	for len(openStack) > 0 {
		e := popStack()
		if err := w(e.depth, e.i, e.part); err != nil {
			return err
		}
		pushStack(e.depth+1, e.part)
	}

	return nil
}

// WalkLeaves will call the PartWalker function for each part holding a text or
// binary body, using a depth first traversal.
func (w PartWalker) WalkLeaves(p *Part) error {
	var lw PartWalker = func(depth, i int, part *Part) error {
		switch part.Body().(type) {
		case *TextBody, *BinaryBody:
			return w(depth, i, part)
		}
		return nil
	}
	return lw.Walk(p)
}

// WalkMultipart will call the PartWalker function for each part holding a
// multipart body, using a depth first traversal.
func (w PartWalker) WalkMultipart(p *Part) error {
	var mw PartWalker = func(depth, i int, part *Part) error {
		if part.Multipart() != nil {
			return w(depth, i, part)
		}
		return nil
	}
	return mw.Walk(p)
}

// Boundaries returns the boundary of every multipart at or below p in walk
// order.
func Boundaries(p *Part) []string {
	var bs []string
	var collect PartWalker = func(_, _ int, sub *Part) error {
		bs = append(bs, sub.Multipart().Boundary)
		return nil
	}
	_ = collect.WalkMultipart(p)
	return bs
}

// Attachments returns the parts below p that carry a Content-Disposition of
// attachment.
func Attachments(p *Part) []*Part {
	var as []*Part
	var collect PartWalker = func(_, _ int, sub *Part) error {
		if d, err := sub.GetContentDisposition(); err == nil && d.Disposition() == "attachment" {
			as = append(as, sub)
		}
		return nil
	}
	_ = collect.Walk(p)
	return as
}
