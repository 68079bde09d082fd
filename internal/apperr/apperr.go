// Package apperr 定义支付链路上的错误类别。
// 具体错误用 fmt.Errorf("%w: ...", kind) 包装某个类别，调用方用 errors.Is 判断类别。
package apperr

import "errors"

var (
	// ErrValidation 用户可修正的参数错误（套餐、邮编选择等），4xx
	ErrValidation = errors.New("参数校验失败")
	// ErrSignatureInvalid webhook 签名校验失败，400 且不改变任何状态
	ErrSignatureInvalid = errors.New("签名校验失败")
	// ErrGatewayUnavailable 网关暂时不可用，由买家重新发起，服务端不自动重试
	ErrGatewayUnavailable = errors.New("支付网关不可用")
	// ErrIntegrityAnomaly 回调与本地记录对不上，需要人工核查
	ErrIntegrityAnomaly = errors.New("数据一致性异常")
	// ErrImmutableRecord 已结算的记录不允许修改或删除
	ErrImmutableRecord = errors.New("记录已结算，不可修改")
	ErrNotFound        = errors.New("记录不存在")
	ErrForbidden       = errors.New("无权访问")
)
