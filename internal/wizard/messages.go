package wizard

const restartHint = "Чтобы начать заново, нажмите /start"

const (
	msgWelcome      = "Добро пожаловать, %s.\n\n"
	msgNoPermission = "У вас нет прав для использования бота."
	msgStartHint    = "Чтобы начать, нажмите /start"
	msgNoPartners   = "Для этого региона нет данных по странам-партнёрам."
	msgNoYears      = "Для этого региона и страны-партнёра нет данных по годам. " + restartHint

	msgUnknownPartner     = "Такого партнёра нет. Пожалуйста, выберите из предложенного списка."
	msgUnknownYear        = "Такого года нет. Пожалуйста, выберите из предложенного списка."
	msgUnknownCategory    = "Такой категории нет. Пожалуйста, выберите из предложенного списка."
	msgUnknownSubcategory = "Такой подкатегории нет. Пожалуйста, выберите из предложенного списка."
	msgEmptyCategory      = "В выбранной вами категории нет подкатегорий. Пожалуйста, выберите другую категорию."
	msgUnknownKind        = "Пожалуйста, выберите тип справки кнопкой."
	msgUnknownGoodsCode   = "Такого кода ТН ВЭД нет в справочнике. Проверьте код и попробуйте ещё раз."

	msgGenerating = "❗Идет генерация справки. Пожалуйста, подождите.❗"
	msgReady      = "Ваш документ %s готов. " + restartHint
	msgNoData     = "По выбранным фильтрам нет данных. " + restartHint
	msgFailure    = "Произошла ошибка при генерации файла. " + restartHint
	msgCancelled  = restartHint

	msgAccessDenied  = "У вас нет прав для управления доступами."
	msgHistoryDenied = "У вас нет прав для просмотра истории."
	msgUsersDenied   = "У вас нет прав для просмотра списка пользователей."
	msgReloadDenied  = "У вас нет прав для перезагрузки движка генерации."
	msgHistoryEmpty  = "История скачиваний пуста."
	msgReloaded      = "Движок генерации %s будет перезагружен при следующем запросе."
	msgReloadFailed  = "Не удалось перезагрузить движок генерации: укажите primary или secondary."

	msgAccessPromptHandle = "Введите данные в формате:\n@username роль\nadvanced - доступ к боту\nuser - нет доступа"
	msgAccessPromptID     = "Введите данные в формате:\ntelegram_id роль\nadvanced - доступ к боту\nuser - нет доступа"
	msgAccessMalformed    = "Некорректный формат. Повторите снова. Укажите пользователя и роль\nadvanced - доступ к боту\nuser - нет доступа"
	msgAccessBadRole      = "Некорректная роль. Повторите снова. Доступные роли:\nadvanced - доступ к боту\nuser - нет доступа"
	msgRoleChanged        = "Роль пользователя %s успешно изменена на %s."
	msgRoleProvisioned    = "Пользователь %s добавлен с ролью %s. Доступ откроется при первом запуске бота."
	msgRoleUnknownID      = "Пользователь с telegram_id=%d ещё ни разу не запускал бота."
	msgRoleUnknownHandle  = "Пользователь @%s ещё ни разу не запускал бота."
	msgRoleSuperAdmin     = "Вы не можете изменить роль супер админа."
)

const (
	promptKind             = "Выберите тип справки для генерации:"
	promptGoodsCodeStrict  = "Введите код ТН ВЭД: 4, 6 или 10 цифр."
	promptGoodsCodeLenient = "Введите код ТН ВЭД, только цифры (от 2 до 10 знаков)."
	promptPartner          = "Выберите страну-партнёра для %s."
	promptYear             = "Выберите год:"
	promptCategory         = "Введите категорию или пропустите данный шаг:"
	promptSubcategory      = "Выберите подкатегорию:"
	promptDigitsTen        = "Введите количество знаков 4, 6, 10 или пропустите данный шаг:"
	promptDigits           = "Введите количество знаков 4, 6 или пропустите данный шаг:"
	promptMonths           = "Введите нужный месяц в формате X или диапазон месяцев в формате X, Y или пропустите данный шаг:"
	promptExclude          = "Введите ТН ВЭД, которые нужно исключить из справки в формате X или несколько ТН ВЭД в формате X, Y, Z или пропустите данный шаг:"
	promptTableSize        = "Введите количество строк товаров от 1 до 500 или пропустите данный шаг:"
	promptCountryTableSize = "Введите количество строк стран от 1 до 250 или пропустите данный шаг:"
	promptTextSize         = "Введите количество текста товаров от 1 до 20 или пропустите данный шаг:"
	promptConfirm          = "Пожалуйста, подтвердите выбор."
	promptConfirmAdvanced  = "Пожалуйста, подтвердите выбор или настройте дополнительные параметры."
)

// Callback data of inline buttons.
const (
	CallbackConfirm  = "confirm"
	CallbackCancel   = "cancel"
	CallbackAdvanced = "advanced_settings"

	CallbackPlane   = "plane_cb"
	CallbackCountry = "country_cb"
	CallbackGoods   = "product_cb"
	CallbackBack    = "cancel_cb"
)

var kindLabels = map[string]string{
	KindPlane:   "Самолётик",
	KindCountry: "По стране",
	KindGoods:   "По товару",
}
