package bot

import (
	"fmt"
	"strings"

	"jizhang/internal/command"
	"jizhang/internal/core"
)

const usageText = "记账命令:\n" +
	"/expense 金额 分类 备注\n" +
	"/income 金额 分类 备注\n" +
	"/myid 查看当前 chat id\n" +
	"示例: /expense 32.5 餐饮 午饭"

const (
	unrecognizedText = "不支持的命令。发送 /help 查看用法。"
	formatErrorText  = "格式错误。示例：/expense 32.5 餐饮 午饭"
	amountErrorText  = "金额必须是大于 0 的数字。"
	kindErrorText    = "格式错误。示例：/add 支出 32.5 餐饮 午饭"
	saveFailedText   = "记账失败，请稍后再试。"
)

func whoAmIText(chatID int64) string {
	return fmt.Sprintf("当前 chat id: %d", chatID)
}

func deniedText(chatID int64) string {
	return fmt.Sprintf("未授权聊天。当前 chat id: %d，请在系统配置中绑定后再试。", chatID)
}

func parseErrorText(e *command.ParseError) string {
	switch e.Reason {
	case command.ReasonInvalidAmount:
		return amountErrorText
	case command.ReasonUnknownKind:
		return kindErrorText
	default:
		return formatErrorText
	}
}

func categoryErrorText(kind core.Kind, valid []string) string {
	return fmt.Sprintf("%s分类无效。可用分类：%s", kind.Label(), strings.Join(valid, ", "))
}

// confirmationText omits the balance line when balance is nil.
func confirmationText(t core.Transaction, balance *core.Money) string {
	var b strings.Builder
	fmt.Fprintf(&b, "已记账 #%d: %s ¥%s / %s", t.ID, t.Kind.Label(), t.Amount, t.Category)
	if t.Note != "" {
		fmt.Fprintf(&b, " (%s)", t.Note)
	}
	if balance != nil {
		fmt.Fprintf(&b, "\n当前结余: ¥%s", *balance)
	}
	return b.String()
}
