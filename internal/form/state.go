package form

// StateKind 响应区域当前显示的状态
type StateKind int

const (
	Idle StateKind = iota
	Pending
	Result
)

func (k StateKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Result:
		return "result"
	default:
		return "idle"
	}
}

// DisplayState 响应区域当前显示的内容；上下文为空时 Context 已是默认文本
type DisplayState struct {
	Kind    StateKind
	Seq     uint64
	Query   string
	Context string
}
