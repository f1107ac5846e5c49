package errors

import "errors"

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ErrConflictingUpsert 并发写入同一异常唯一键时的冲突
var ErrConflictingUpsert = errors.New("异常记录写入冲突")
