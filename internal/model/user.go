package model

import "time"

// User 表示系统用户。
//
// 邮箱在入库前统一转为小写，登录时按邮箱（不区分大小写）或
// 用户名（区分大小写）匹配。
type User struct {
	ID           uint      `gorm:"primaryKey"`                    // 用户 ID
	Email        string    `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一，小写）
	Username     string    `gorm:"type:varchar(150);uniqueIndex"` // 用户名（唯一；为空时由邮箱本地部分生成）
	PasswordHash string    `gorm:"not null"`                      // bcrypt 哈希
	FirstName    string    `gorm:"type:varchar(30)"`              // 名
	LastName     string    `gorm:"type:varchar(30)"`              // 姓
	AvatarKey    string    `gorm:"type:varchar(255)"`             // 头像在对象存储中的 Key（可为空）
	IsStaff      bool      `gorm:"default:false"`                 // 是否为后台管理员
	IsActive     bool      `gorm:"default:true"`                  // 是否启用（禁用后无法登录）
	CreatedAt    time.Time // 注册时间

	Tasks []Task `gorm:"foreignKey:UserID"`
}

// FullName 返回用户的完整姓名，为空时退回邮箱。
func (u *User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Email
	}
	return name
}

// ShortName 返回用于称呼的短名。
func (u *User) ShortName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// PasswordResetOTP 表示一次性的密码重置验证码。
//
// 验证码为 6 位数字字符串（保留前导零），创建后 10 分钟内有效，
// 使用成功后置为已消费，之后不可复用。同一用户可同时存在多条
// 未消费记录，校验时取创建时间最新的一条。
type PasswordResetOTP struct {
	ID        uint      `gorm:"primaryKey"` // 记录 ID
	UserID    uint      `gorm:"not null;index"`
	User      User      `gorm:"foreignKey:UserID"`
	Code      string    `gorm:"type:varchar(6);not null"` // 零填充 6 位数字
	Consumed  bool      `gorm:"default:false"`            // 是否已消费
	CreatedAt time.Time // 创建时间
}

// OTPTTL 验证码有效期。
const OTPTTL = 10 * time.Minute

// IsExpired 判断验证码是否已过期（读取时计算，不落库）。
func (o *PasswordResetOTP) IsExpired(now time.Time) bool {
	return now.Sub(o.CreatedAt) > OTPTTL
}
