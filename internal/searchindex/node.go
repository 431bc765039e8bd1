package searchindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"
)

// Node is one character position of a field trie. A node whose path spells a
// complete token carries that token's postings: DF is the number of documents
// containing it and Docs maps each ref to its term-frequency score.
// Intermediate nodes carry DF 0 and no postings.
type Node struct {
	DF       int
	Docs     map[string]float64
	Children map[rune]*Node
}

// NewNode returns an empty node.
func NewNode() *Node {
	return &Node{
		Docs:     make(map[string]float64),
		Children: make(map[rune]*Node),
	}
}

// Insert records tf for ref under token, creating intermediate nodes as
// needed. DF is kept equal to the number of postings.
func (n *Node) Insert(token, ref string, tf float64) {
	if token == "" {
		return
	}
	cur := n
	for _, r := range token {
		next, ok := cur.Children[r]
		if !ok {
			next = NewNode()
			cur.Children[r] = next
		}
		cur = next
	}
	cur.Docs[ref] = tf
	cur.DF = len(cur.Docs)
}

// Find returns the node reached by token, or nil.
func (n *Node) Find(token string) *Node {
	if token == "" {
		return nil
	}
	cur := n
	for _, r := range token {
		next, ok := cur.Children[r]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Expand returns every indexed token that starts with prefix, the prefix
// itself included when it is a token, in lexical order.
func (n *Node) Expand(prefix string) []string {
	start := n.Find(prefix)
	if start == nil {
		return nil
	}
	var out []string
	start.walk(prefix, func(token string, node *Node) {
		if node.DF > 0 {
			out = append(out, token)
		}
	})
	return out
}

// Walk visits every node holding postings in lexical token order.
func (n *Node) Walk(fn func(token string, node *Node)) {
	n.walk("", func(token string, node *Node) {
		if len(node.Docs) > 0 {
			fn(token, node)
		}
	})
}

func (n *Node) walk(prefix string, fn func(string, *Node)) {
	fn(prefix, n)
	for _, r := range n.sortedChildren() {
		n.Children[r].walk(prefix+string(r), fn)
	}
}

func (n *Node) sortedChildren() []rune {
	keys := make([]rune, 0, len(n.Children))
	for r := range n.Children {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MarshalJSON writes the node in the generator's layout: the reserved keys
// "df" and "docs" sorted together with the single-character child keys.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	n.writeJSON(&buf)
	return buf.Bytes(), nil
}

func (n *Node) writeJSON(buf *bytes.Buffer) {
	keys := make([]string, 0, len(n.Children)+2)
	keys = append(keys, "df", "docs")
	for r := range n.Children {
		keys = append(keys, string(r))
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		switch k {
		case "df":
			buf.WriteString(strconv.Itoa(n.DF))
		case "docs":
			n.writeDocs(buf)
		default:
			r, _ := utf8.DecodeRuneInString(k)
			n.Children[r].writeJSON(buf)
		}
	}
	buf.WriteByte('}')
}

func (n *Node) writeDocs(buf *bytes.Buffer) {
	refs := make([]string, 0, len(n.Docs))
	for ref := range n.Docs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	buf.WriteByte('{')
	for i, ref := range refs {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, ref)
		buf.WriteString(`:{"tf":`)
		buf.Write(formatTF(n.Docs[ref]))
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
}

// formatTF prints the shortest round-trip representation and always keeps a
// fractional part, so 1 is written as 1.0.
func formatTF(tf float64) []byte {
	b := strconv.AppendFloat(nil, tf, 'f', -1, 64)
	if !bytes.ContainsAny(b, ".eE") {
		b = append(b, '.', '0')
	}
	return b
}

// writeString writes s as a JSON string without HTML escaping.
func writeString(buf *bytes.Buffer, s string) {
	const hex = "0123456789abcdef"
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hex[r>>4])
				buf.WriteByte(hex[r&0xf])
				continue
			}
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// UnmarshalJSON decodes a whole subtree in a single streaming pass.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	decoded, err := decodeNode(dec, "")
	if err != nil {
		return err
	}
	*n = *decoded
	return nil
}

type posting struct {
	TF float64 `json:"tf"`
}

func decodeNode(dec *json.Decoder, path string) (*Node, error) {
	if err := expectDelim(dec, '{', path); err != nil {
		return nil, err
	}
	n := NewNode()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading key at %q: %w", path, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v at %q", tok, path)
		}
		switch key {
		case "df":
			if err := dec.Decode(&n.DF); err != nil {
				return nil, fmt.Errorf("decoding df at %q: %w", path, err)
			}
		case "docs":
			var docs map[string]posting
			if err := dec.Decode(&docs); err != nil {
				return nil, fmt.Errorf("decoding docs at %q: %w", path, err)
			}
			for ref, p := range docs {
				n.Docs[ref] = p.TF
			}
		default:
			r, size := utf8.DecodeRuneInString(key)
			if r == utf8.RuneError || size != len(key) {
				return nil, fmt.Errorf("trie key %q at %q is not a single character", key, path)
			}
			child, err := decodeNode(dec, path+key)
			if err != nil {
				return nil, err
			}
			n.Children[r] = child
		}
	}
	if err := expectDelim(dec, '}', path); err != nil {
		return nil, err
	}
	return n, nil
}

func expectDelim(dec *json.Decoder, want json.Delim, path string) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading trie node at %q: %w", path, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q at %q, got %v", want, path, tok)
	}
	return nil
}
