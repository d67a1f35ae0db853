package core

// Red-black tree keyed by price, one node per populated price level.
// Gives O(log P) insert/delete/lookup in the number of distinct prices.
// Bids use a descending tree (best = maximum), asks ascending
// (best = minimum).

type nodeColor bool

const (
	colorRed   nodeColor = true
	colorBlack nodeColor = false
)

type treeNode struct {
	key    int64
	level  *priceLevel
	color  nodeColor
	left   *treeNode
	right  *treeNode
	parent *treeNode
}

type priceTree struct {
	root       *treeNode
	size       int
	descending bool
}

func newPriceTree(descending bool) *priceTree {
	return &priceTree{descending: descending}
}

func (t *priceTree) len() int { return t.size }

// get returns the level at the given price, or nil.
func (t *priceTree) get(price int64) *priceLevel {
	if n := t.findNode(price); n != nil {
		return n.level
	}
	return nil
}

func (t *priceTree) findNode(key int64) *treeNode {
	n := t.root
	for n != nil {
		switch {
		case key == n.key:
			return n
		case key < n.key:
			n = n.left
		default:
			n = n.right
		}
	}
	return nil
}

// insert adds a level for the given price. The caller checks for an
// existing level first; inserting a duplicate key replaces the level.
func (t *priceTree) insert(price int64, level *priceLevel) {
	newNode := &treeNode{key: price, level: level, color: colorRed}

	if t.root == nil {
		t.root = newNode
		t.root.color = colorBlack
		t.size++
		return
	}

	current := t.root
	var parent *treeNode
	for current != nil {
		parent = current
		if price == current.key {
			current.level = level
			return
		} else if price < current.key {
			current = current.left
		} else {
			current = current.right
		}
	}

	newNode.parent = parent
	if price < parent.key {
		parent.left = newNode
	} else {
		parent.right = newNode
	}
	t.size++

	t.insertFixup(newNode)
}

func (t *priceTree) insertFixup(node *treeNode) {
	for node != t.root && node.parent.color == colorRed {
		if node.parent == node.parent.parent.left {
			uncle := node.parent.parent.right
			if uncle != nil && uncle.color == colorRed {
				node.parent.color = colorBlack
				uncle.color = colorBlack
				node.parent.parent.color = colorRed
				node = node.parent.parent
			} else {
				if node == node.parent.right {
					node = node.parent
					t.leftRotate(node)
				}
				node.parent.color = colorBlack
				node.parent.parent.color = colorRed
				t.rightRotate(node.parent.parent)
			}
		} else {
			uncle := node.parent.parent.left
			if uncle != nil && uncle.color == colorRed {
				node.parent.color = colorBlack
				uncle.color = colorBlack
				node.parent.parent.color = colorRed
				node = node.parent.parent
			} else {
				if node == node.parent.left {
					node = node.parent
					t.rightRotate(node)
				}
				node.parent.color = colorBlack
				node.parent.parent.color = colorRed
				t.leftRotate(node.parent.parent)
			}
		}
	}
	t.root.color = colorBlack
}

// delete removes the level at the given price.
func (t *priceTree) delete(price int64) bool {
	node := t.findNode(price)
	if node == nil {
		return false
	}
	t.deleteNode(node)
	t.size--
	return true
}

func (t *priceTree) deleteNode(z *treeNode) {
	y := z
	yOriginalColor := y.color
	var x, xParent *treeNode

	switch {
	case z.left == nil:
		x = z.right
		xParent = z.parent
		t.transplant(z, z.right)
	case z.right == nil:
		x = z.left
		xParent = z.parent
		t.transplant(z, z.left)
	default:
		y = t.minimum(z.right)
		yOriginalColor = y.color
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	// x may be nil (a leaf); the fixup tracks its parent explicitly so
	// removing a childless black node still restores the black height.
	if yOriginalColor == colorBlack {
		t.deleteFixup(x, xParent)
	}
}

func isRed(n *treeNode) bool { return n != nil && n.color == colorRed }

func isBlack(n *treeNode) bool { return !isRed(n) }

func (t *priceTree) transplant(u, v *treeNode) {
	if u.parent == nil {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

// deleteFixup restores the red-black properties after removing a black
// node. x is the node carrying the extra black and may be nil, so its
// position is tracked through parent rather than x.parent. While x is
// doubly black its sibling subtree has black height at least one, so
// the sibling w is never nil where it is dereferenced.
func (t *priceTree) deleteFixup(x, parent *treeNode) {
	for x != t.root && isBlack(x) {
		if x == parent.left {
			w := parent.right
			if isRed(w) {
				w.color = colorBlack
				parent.color = colorRed
				t.leftRotate(parent)
				w = parent.right
			}
			if isBlack(w.left) && isBlack(w.right) {
				w.color = colorRed
				x = parent
				parent = x.parent
			} else {
				if isBlack(w.right) {
					w.left.color = colorBlack
					w.color = colorRed
					t.rightRotate(w)
					w = parent.right
				}
				w.color = parent.color
				parent.color = colorBlack
				w.right.color = colorBlack
				t.leftRotate(parent)
				x = t.root
			}
		} else {
			w := parent.left
			if isRed(w) {
				w.color = colorBlack
				parent.color = colorRed
				t.rightRotate(parent)
				w = parent.left
			}
			if isBlack(w.right) && isBlack(w.left) {
				w.color = colorRed
				x = parent
				parent = x.parent
			} else {
				if isBlack(w.left) {
					w.right.color = colorBlack
					w.color = colorRed
					t.leftRotate(w)
					w = parent.left
				}
				w.color = parent.color
				parent.color = colorBlack
				w.left.color = colorBlack
				t.rightRotate(parent)
				x = t.root
			}
		}
	}
	if x != nil {
		x.color = colorBlack
	}
}

func (t *priceTree) leftRotate(x *treeNode) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *priceTree) rightRotate(x *treeNode) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *priceTree) minimum(node *treeNode) *treeNode {
	for node.left != nil {
		node = node.left
	}
	return node
}

func (t *priceTree) maximum(node *treeNode) *treeNode {
	for node.right != nil {
		node = node.right
	}
	return node
}

// best returns the top-of-book level for this side: the maximum price
// for a descending (bid) tree, the minimum for an ascending (ask) one.
func (t *priceTree) best() *priceLevel {
	if t.root == nil {
		return nil
	}
	if t.descending {
		return t.maximum(t.root).level
	}
	return t.minimum(t.root).level
}

// forEach visits levels in side order (bids high to low, asks low to
// high) until fn returns false.
func (t *priceTree) forEach(fn func(price int64, level *priceLevel) bool) {
	if t.descending {
		t.forEachDescending(t.root, fn)
	} else {
		t.forEachAscending(t.root, fn)
	}
}

func (t *priceTree) forEachAscending(node *treeNode, fn func(int64, *priceLevel) bool) bool {
	if node == nil {
		return true
	}
	if !t.forEachAscending(node.left, fn) {
		return false
	}
	if !fn(node.key, node.level) {
		return false
	}
	return t.forEachAscending(node.right, fn)
}

func (t *priceTree) forEachDescending(node *treeNode, fn func(int64, *priceLevel) bool) bool {
	if node == nil {
		return true
	}
	if !t.forEachDescending(node.right, fn) {
		return false
	}
	if !fn(node.key, node.level) {
		return false
	}
	return t.forEachDescending(node.left, fn)
}
