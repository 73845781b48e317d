package proxy

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/offline-hub/offline-hub/internal/server"
)

// rewriteCDNLinks 把页面中指向白名单 CDN 的 src/href 改写为本地挂载路径，
// 使 CDN 资源同样经过缓存代理。
func rewriteCDNLinks(body []byte, registry *server.OriginRegistry) ([]byte, error) {
	if registry == nil || len(registry.CDNOrigins()) == 0 {
		return body, nil
	}
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if !rewriteCDNNode(node, registry) {
		return body, nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rewriteCDNNode(n *html.Node, registry *server.OriginRegistry) bool {
	changed := false
	if n.Type == html.ElementNode {
		for i, attr := range n.Attr {
			switch attr.Key {
			case "src", "href":
				val := strings.TrimSpace(attr.Val)
				if strings.HasPrefix(val, "//") {
					val = "https:" + val
				}
				if local, ok := registry.LocalPath(val); ok {
					n.Attr[i].Val = local
					changed = true
				}
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if rewriteCDNNode(child, registry) {
			changed = true
		}
	}
	return changed
}
