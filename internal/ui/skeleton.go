package ui

import (
	"strings"

	"golang.org/x/net/html"
)

const (
	skeletonClass     = "skeleton-container"
	skeletonCardCount = 6
)

const skeletonCard = `<div class="skeleton-card">` +
	`<div class="skeleton-image"></div>` +
	`<div class="skeleton-content">` +
	`<div class="skeleton-line skeleton-text"></div>` +
	`<div class="skeleton-line skeleton-text short"></div>` +
	`<div class="skeleton-line skeleton-price"></div>` +
	`</div></div>`

// SkeletonHTML 返回加载占位布局：一个标题块 + 六张占位卡片。
func SkeletonHTML() string {
	return `<div class="skeleton-container">` +
		`<div class="skeleton-header">` +
		`<div class="skeleton-line skeleton-title"></div>` +
		`<div class="skeleton-line skeleton-subtitle"></div>` +
		`</div>` +
		`<div class="skeleton-grid">` + strings.Repeat(skeletonCard, skeletonCardCount) + `</div>` +
		`</div>`
}

// ShowSkeleton 用占位布局替换容器内容；容器不存在时不做任何事，返回是否生效。
func ShowSkeleton(doc *Document, containerID string) bool {
	applied := false
	doc.Update(func(root *html.Node) {
		container := findByID(root, containerID)
		if container == nil {
			return
		}
		applied = setInnerHTML(container, SkeletonHTML()) == nil
	})
	return applied
}

// HideSkeleton 移除容器中的占位布局；容器或占位不存在时不做任何事。
func HideSkeleton(doc *Document, containerID string) bool {
	removed := false
	doc.Update(func(root *html.Node) {
		container := findByID(root, containerID)
		if container == nil {
			return
		}
		skeleton := findFirst(container, func(n *html.Node) bool { return hasClass(n, skeletonClass) })
		if skeleton == nil {
			return
		}
		removeNode(skeleton)
		removed = true
	})
	return removed
}
