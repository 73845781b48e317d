package ui

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document 是一份可被控制器修改的 HTML 页面，所有修改都在 mu 保护下进行。
type Document struct {
	mu   sync.Mutex
	root *html.Node
}

// Parse 解析完整 HTML 文档。
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString 是 Parse 的字符串便捷版本。
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Update 在文档锁内执行一次修改。
func (d *Document) Update(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// Render 将文档序列化输出。
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String 返回序列化后的文档，出错时返回空串。
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// HasID 报告文档中是否存在指定 id 的元素。
func (d *Document) HasID(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return findByID(d.root, id) != nil
}

// CountClass 返回带有指定 class 的元素数量。
func (d *Document) CountClass(class string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(findAll(d.root, func(n *html.Node) bool { return hasClass(n, class) }))
}

func findByID(root *html.Node, id string) *html.Node {
	if root == nil || id == "" {
		return nil
	}
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var nodes []*html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && match(n) {
			nodes = append(nodes, n)
		}
		return true
	})
	return nodes
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && match(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk 先序遍历，visit 返回 false 时停止。
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if !walk(child, visit) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, value string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// setStyleDisplay 只替换 style 中的 display 声明，保留其它声明。
func setStyleDisplay(n *html.Node, display string) {
	var decls []string
	for _, decl := range strings.Split(attr(n, "style"), ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		name, _, _ := strings.Cut(decl, ":")
		if strings.EqualFold(strings.TrimSpace(name), "display") {
			continue
		}
		decls = append(decls, decl)
	}
	decls = append(decls, "display: "+display)
	setAttr(n, "style", strings.Join(decls, "; "))
}

// setInnerHTML 用 fragment 解析出的节点替换 n 的全部子节点。
func setInnerHTML(n *html.Node, fragment string) error {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), contextFor(n))
	if err != nil {
		return err
	}
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		n.RemoveChild(child)
		child = next
	}
	for _, child := range nodes {
		n.AppendChild(child)
	}
	return nil
}

// appendHTML 将 fragment 解析出的节点追加到 n 末尾并返回第一个元素节点。
func appendHTML(n *html.Node, fragment string) (*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), contextFor(n))
	if err != nil {
		return nil, err
	}
	var first *html.Node
	for _, child := range nodes {
		n.AppendChild(child)
		if first == nil && child.Type == html.ElementNode {
			first = child
		}
	}
	return first, nil
}

func removeNode(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func body(root *html.Node) *html.Node {
	return findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.Body })
}

func contextFor(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		return n
	}
	return &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
}
