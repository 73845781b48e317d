package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存代数/请求目标/命中状态字段，供代理请求日志复用。
func RequestFields(generation, method, target, destination string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"generation":  generation,
		"method":      method,
		"url":         target,
		"destination": destination,
		"cache_hit":   cacheHit,
	}
}

// OrderFields 描述离线订单同步日志所需的队列与订单字段。
func OrderFields(action, slot, orderID string) logrus.Fields {
	fields := logrus.Fields{
		"action": action,
		"slot":   slot,
	}
	if orderID != "" {
		fields["order_id"] = orderID
	}
	return fields
}
