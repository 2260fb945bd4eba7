package form

import "time"

// Timer 已调度回调的句柄
type Timer interface {
	Stop() bool
}

// Clock 调度延迟渲染，测试中可替换
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock 基于 time.AfterFunc
var RealClock Clock = realClock{}
