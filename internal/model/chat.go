// Package model 包含了应用的数据模型定义。
package model

import "time"

// Turn 代表一轮完整的问答：用户消息与模型回复成对出现，写入后不可变。
type Turn struct {
	User  string `bson:"user" json:"user"`
	Model string `bson:"model" json:"model"`
}

// Chat 代表一个 Telegram 会话的持久化记录，_id 即 Telegram chat id。
type Chat struct {
	ID               int64     `bson:"_id" json:"id"`
	FirstInteraction time.Time `bson:"first_interaction" json:"firstInteraction"`
	LastInteraction  time.Time `bson:"last_interaction" json:"lastInteraction"`
	History          []Turn    `bson:"history" json:"history"`
}
