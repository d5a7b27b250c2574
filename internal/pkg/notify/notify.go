package notify

// Mailer 定义对外发信接口。
type Mailer interface {
	// SendResetCode 发送密码重置验证码。
	//
	// 参数:
	//   toEmail: 接收邮箱
	//   name: 收件人称呼
	//   code: 零填充 6 位验证码
	SendResetCode(toEmail string, name string, code string) error
}
