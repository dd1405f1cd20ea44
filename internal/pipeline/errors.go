package pipeline

import "fmt"

// StageFailed 表示管道某一阶段在用尽重试后仍然失败。
// 它是单次请求的终态错误：管道自身不再重试，也绝不产出降级的部分特征记录，
// 下游无法区分“降级”与“正常”的特征，半成品一旦入库就是无法察觉的质量事故。
type StageFailed struct {
	Stage string
	Err   error
}

func (e *StageFailed) Error() string {
	return fmt.Sprintf("特征管道阶段 %q 失败: %v", e.Stage, e.Err)
}

func (e *StageFailed) Unwrap() error {
	return e.Err
}
