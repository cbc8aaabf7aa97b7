// 包 version：构建元信息，由链接期注入
package version

var (
	// Release：发布名，-ldflags "-X .../version.Release=..."
	Release = "dev"
	// Commit：构建所在提交
	Commit = "unknown"
)
