package resource

// stmtNode is one entry in the statement cache's recency list: head is the most recently used
// statement, tail is the next eviction candidate.
type stmtNode struct {
	sql  string
	stmt PreparedStatement
	prev *stmtNode
	next *stmtNode
}

// statementCache is a bounded in-process cache of prepared statements keyed by SQL text, with
// recency-based eviction: lookups and inserts promote an entry to the head of the recency
// list, and once the cache grows past maxEntries it evicts from the tail down to minEntries,
// so a burst of one-off statements sheds in one pass instead of churning per insert.
type statementCache struct {
	minEntries int
	maxEntries int
	entries    map[string]*stmtNode
	head       *stmtNode
	tail       *stmtNode
}

func newStatementCache(minEntries, maxEntries int) *statementCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if minEntries < 0 || minEntries > maxEntries {
		minEntries = maxEntries
	}
	return &statementCache{
		minEntries: minEntries,
		maxEntries: maxEntries,
		entries:    make(map[string]*stmtNode, maxEntries),
	}
}

// get returns the statement cached under sql, promoting it to most recently used.
func (c *statementCache) get(sql string) (PreparedStatement, bool) {
	n, ok := c.entries[sql]
	if !ok {
		return nil, false
	}
	c.promote(n)
	return n.stmt, true
}

// put caches stmt under sql as the most recently used entry, evicting stale statements if the
// cache has outgrown maxEntries.
func (c *statementCache) put(sql string, stmt PreparedStatement) {
	if n, ok := c.entries[sql]; ok {
		n.stmt = stmt
		c.promote(n)
		return
	}
	n := &stmtNode{sql: sql, stmt: stmt}
	c.entries[sql] = n
	c.pushHead(n)
	if len(c.entries) > c.maxEntries {
		c.evict()
	}
}

// delete removes the statement cached under sql, if present. Used when a cached statement
// reports it can no longer be reused.
func (c *statementCache) delete(sql string) {
	n, ok := c.entries[sql]
	if !ok {
		return
	}
	c.unlink(n)
	delete(c.entries, sql)
}

// clear drops every cached statement, used when the schema snapshot the cache was built under
// goes stale.
func (c *statementCache) clear() {
	c.entries = make(map[string]*stmtNode, c.maxEntries)
	c.head = nil
	c.tail = nil
}

func (c *statementCache) len() int {
	return len(c.entries)
}

// evict sheds least-recently-used statements from the tail until the cache is back down to
// minEntries.
func (c *statementCache) evict() {
	for len(c.entries) > c.minEntries && c.tail != nil {
		victim := c.tail
		c.unlink(victim)
		delete(c.entries, victim.sql)
	}
}

func (c *statementCache) promote(n *stmtNode) {
	if c.head == n {
		return
	}
	c.unlink(n)
	c.pushHead(n)
}

func (c *statementCache) pushHead(n *stmtNode) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	} else {
		c.tail = n
	}
	c.head = n
}

func (c *statementCache) unlink(n *stmtNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}
